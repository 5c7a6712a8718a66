package luma

import (
	"fmt"
	"sync"

	"github.com/flipnoteman/Luma/gpu"
)

// Context owns the device, queue and operation registry behind a set of
// Arrays. The underlying device is a genuinely process-scoped resource, so
// most programs use the shared context returned by Acquire; tests construct
// their own with NewContext so each case runs in isolation.
type Context struct {
	backend  gpu.Backend
	device   gpu.Device
	registry *Registry
	executor *Executor

	closeOnce sync.Once
}

// Option configures NewContext.
type Option func(*config)

type config struct {
	backend gpu.Backend
	opDir   string
}

// WithBackend selects the compute backend explicitly instead of the
// registered/default backend chain.
func WithBackend(b gpu.Backend) Option {
	return func(c *config) { c.backend = b }
}

// WithOperationDir additionally compiles every *.wgsl file in dir into the
// operation registry, keyed by file stem.
func WithOperationDir(dir string) Option {
	return func(c *config) { c.opDir = dir }
}

// NewContext opens a device and loads the operation registry. It fails with
// ErrDeviceUnavailable when no adapter or logical device can be obtained.
func NewContext(opts ...Option) (*Context, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	backend := cfg.backend
	if backend == nil {
		var err error
		backend, err = gpu.Active()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}

	dev, err := backend.Open()
	if err != nil {
		return nil, err
	}
	info := dev.Info()
	logger().Info("device opened",
		"backend", backend.Info().Name,
		"adapter", info.Name,
		"vendor", info.Vendor,
		"type", info.AdapterType)

	reg := newRegistry()
	if err := reg.loadBuiltins(dev); err != nil {
		dev.Close()
		return nil, err
	}
	if cfg.opDir != "" {
		if err := reg.LoadDirectory(dev, cfg.opDir); err != nil {
			dev.Close()
			return nil, err
		}
	}
	logger().Info("operation registry loaded", "operations", reg.Names())

	return &Context{
		backend:  backend,
		device:   dev,
		registry: reg,
		executor: newExecutor(dev, reg),
	}, nil
}

// Device returns the opened device handle.
func (c *Context) Device() gpu.Device { return c.device }

// Registry returns the operation registry.
func (c *Context) Registry() *Registry { return c.registry }

// Executor returns the dispatcher bound to this context's device.
func (c *Context) Executor() *Executor { return c.executor }

// Close releases the device. Outstanding dispatches resolve with
// ErrDeviceLost rather than hanging. Closing twice is a no-op.
func (c *Context) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.device.Close()
	})
	return err
}

var (
	defaultMu  sync.Mutex
	defaultCtx *Context
)

// Acquire returns the process-wide context, initializing it on first call.
// Subsequent calls return the same instance. The shared context lives for the
// process; it does not need explicit teardown before exit.
func Acquire() (*Context, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCtx != nil {
		return defaultCtx, nil
	}
	c, err := NewContext()
	if err != nil {
		return nil, err
	}
	defaultCtx = c
	return c, nil
}

// resetDefault drops the shared context so tests can reinitialize from a
// clean state.
func resetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCtx != nil {
		defaultCtx.Close()
		defaultCtx = nil
	}
}
