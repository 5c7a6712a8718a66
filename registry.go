package luma

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flipnoteman/Luma/gpu"
)

//go:embed operations/*.wgsl
var builtinShaders embed.FS

// defaultWorkgroupSize matches the @workgroup_size declared by the shipped
// operation shaders. External shader directories must use the same size.
const defaultWorkgroupSize = 64

// Operation is a registered compute kernel: a compiled pipeline plus the
// layout facts the executor needs to size a dispatch. Immutable once
// registered.
type Operation struct {
	Name          string
	Pipeline      gpu.Pipeline
	WorkgroupSize uint32
}

// Registry maps operation names to compiled operations. It is populated once
// while the owning Context initializes and is read-only afterwards, so
// lookups need no locking.
type Registry struct {
	ops map[string]*Operation
}

func newRegistry() *Registry {
	return &Registry{ops: map[string]*Operation{}}
}

// loadBuiltins compiles the embedded operation shaders. The file stem is the
// operation name, so operations/double.wgsl registers "double".
func (r *Registry) loadBuiltins(dev gpu.Device) error {
	entries, err := builtinShaders.ReadDir("operations")
	if err != nil {
		return fmt.Errorf("read embedded operations: %w", err)
	}
	for _, entry := range entries {
		src, err := builtinShaders.ReadFile("operations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read embedded shader %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".wgsl")
		if err := r.compile(dev, name, string(src)); err != nil {
			return err
		}
	}
	return nil
}

// LoadDirectory compiles every *.wgsl file in dir, keyed by file stem. It is
// meant to be called only during Context initialization; the registry does
// not support registration after that.
func (r *Registry) LoadDirectory(dev gpu.Device, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read operation directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wgsl") {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read shader %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".wgsl")
		if err := r.compile(dev, name, string(src)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) compile(dev gpu.Device, name, src string) error {
	pipeline, err := dev.NewPipeline(gpu.PipelineDescriptor{
		Name:          name,
		WGSL:          src,
		EntryPoint:    "main",
		WorkgroupSize: defaultWorkgroupSize,
	})
	if err != nil {
		return fmt.Errorf("compile operation %q: %w", name, err)
	}
	r.ops[name] = &Operation{
		Name:          name,
		Pipeline:      pipeline,
		WorkgroupSize: defaultWorkgroupSize,
	}
	return nil
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (*Operation, error) {
	op, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	return op, nil
}

// Names returns the registered operation names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
