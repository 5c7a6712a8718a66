package gpu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Kernel is a CPU implementation of an operation, used by the mock backend in
// place of a compiled shader. Bindings are handed over in declaration order;
// binding 0 is the read-write element data.
type Kernel func(bindings [][]byte, workgroups [3]uint32) error

// MockBackend is a CPU-backed backend for development and tests. It satisfies
// the backend interfaces but executes registered Go kernels instead of WGSL.
type MockBackend struct {
	// Latency delays each submission's completion, so tests can observe
	// dispatches while they are still in flight.
	Latency time.Duration

	// Limits overrides the device limits the mock reports. The zero value
	// selects the WebGPU baseline defaults.
	Limits DeviceLimits

	// FailReadback, when non-nil, makes every submission resolve with
	// ErrReadbackFailed wrapping this error, as if the staging buffer never
	// mapped.
	FailReadback error

	// TruncateReadback, when positive, caps Result.Data at that many bytes so
	// short-read handling can be exercised.
	TruncateReadback int

	kernels map[string]Kernel
}

// defaultMockLimits matches the WebGPU baseline guarantees.
var defaultMockLimits = DeviceLimits{
	MaxComputeInvocationsPerWorkgroup: 256,
	MaxComputeWorkgroupSizeX:          256,
	MaxComputeWorkgroupSizeY:          256,
	MaxComputeWorkgroupSizeZ:          64,
	MaxComputeWorkgroupsPerDimension:  65535,
	MaxStorageBufferBindingSize:       128 << 20,
	MaxBufferSize:                     256 << 20,
}

// NewMockBackend returns a mock backend with the built-in double kernel
// registered. Additional kernels can be added with RegisterKernel before a
// device is opened.
func NewMockBackend() *MockBackend {
	b := &MockBackend{kernels: map[string]Kernel{}}
	b.RegisterKernel("double", doubleKernel)
	return b
}

// RegisterKernel installs a CPU kernel under the given operation name.
func (b *MockBackend) RegisterKernel(name string, k Kernel) {
	b.kernels[name] = k
}

func (b *MockBackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "mock",
		Version:     "0.1",
		Description: "CPU-backed mock compute backend",
	}
}

func (b *MockBackend) Available() bool { return true }

func (b *MockBackend) Open() (Device, error) {
	limits := b.Limits
	if limits == (DeviceLimits{}) {
		limits = defaultMockLimits
	}
	return &mockDevice{
		backend: b,
		limits:  limits,
		info: DeviceInfo{
			Name:        "MockGPU",
			Vendor:      "luma",
			Backend:     "cpu",
			AdapterType: "mock",
			Driver:      "mock",
		},
		lost:    make(chan struct{}),
		pending: map[*mockSubmission]struct{}{},
	}, nil
}

// doubleKernel mirrors operations/double.wgsl: every u32 element of binding 0
// is multiplied by two in place.
func doubleKernel(bindings [][]byte, _ [3]uint32) error {
	data := bindings[0]
	for i := 0; i+4 <= len(data); i += 4 {
		binary.LittleEndian.PutUint32(data[i:], binary.LittleEndian.Uint32(data[i:])*2)
	}
	return nil
}

type mockDevice struct {
	backend *MockBackend
	info    DeviceInfo
	limits  DeviceLimits

	mu      sync.Mutex
	pending map[*mockSubmission]struct{}
	closed  bool

	lostOnce sync.Once
	lost     chan struct{}
	lostErr  error
}

func (d *mockDevice) Info() DeviceInfo      { return d.info }
func (d *mockDevice) Limits() DeviceLimits  { return d.limits }
func (d *mockDevice) Lost() <-chan struct{} { return d.lost }
func (d *mockDevice) LostReason() error     { return d.lostErr }

// SimulateLoss marks the device lost and resolves every in-flight submission
// with ErrDeviceLost. Used by tests to exercise device-loss handling.
func (d *mockDevice) SimulateLoss(reason error) {
	d.lostOnce.Do(func() {
		d.lostErr = reason
		close(d.lost)
	})

	d.mu.Lock()
	stranded := make([]*mockSubmission, 0, len(d.pending))
	for s := range d.pending {
		stranded = append(stranded, s)
	}
	d.mu.Unlock()

	for _, s := range stranded {
		d.deliver(s, Result{Err: fmt.Errorf("%w: %v", ErrDeviceLost, reason)})
	}
}

func (d *mockDevice) NewBuffer(desc BufferDescriptor) (Buffer, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	size := desc.Size
	if desc.Contents != nil {
		size = uint64(len(desc.Contents))
	}
	buf := &mockBuffer{label: desc.Label, data: make([]byte, size)}
	copy(buf.data, desc.Contents)
	return buf, nil
}

func (d *mockDevice) NewPipeline(desc PipelineDescriptor) (Pipeline, error) {
	kernel, ok := d.backend.kernels[desc.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, desc.Name)
	}
	return &mockPipeline{name: desc.Name, kernel: kernel}, nil
}

func (d *mockDevice) Submit(desc SubmitDescriptor) (Submission, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	select {
	case <-d.lost:
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDeviceLost, d.lostErr)
	default:
	}

	src, ok := desc.ReadbackFrom.(*mockBuffer)
	if !ok || src.data == nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: invalid readback buffer", ErrSubmissionFailed)
	}

	sub := &mockSubmission{done: make(chan Result, 1)}
	d.pending[sub] = struct{}{}
	d.mu.Unlock()

	go d.run(desc, sub)
	return sub, nil
}

// run executes the submission on a worker goroutine and signals completion
// through the submission channel, matching the one-result-per-dispatch
// contract of the real backend.
func (d *mockDevice) run(desc SubmitDescriptor, sub *mockSubmission) {
	if d.backend.Latency > 0 {
		timer := time.NewTimer(d.backend.Latency)
		select {
		case <-timer.C:
		case <-d.lost:
			timer.Stop()
			// SimulateLoss resolves the submission; nothing left to do.
			return
		}
	}

	d.mu.Lock()
	select {
	case <-d.lost:
		d.mu.Unlock()
		return
	default:
	}

	if desc.Pipeline != nil {
		pipe := desc.Pipeline.(*mockPipeline)
		bindings := make([][]byte, len(desc.Bindings))
		for i, b := range desc.Bindings {
			bindings[i] = b.(*mockBuffer).data
		}
		if err := pipe.kernel(bindings, desc.Workgroups); err != nil {
			d.mu.Unlock()
			d.deliver(sub, Result{Err: fmt.Errorf("%w: kernel %q: %v", ErrSubmissionFailed, pipe.name, err)})
			return
		}
	}

	data := make([]byte, len(desc.ReadbackFrom.(*mockBuffer).data))
	copy(data, desc.ReadbackFrom.(*mockBuffer).data)
	d.mu.Unlock()

	if cause := d.backend.FailReadback; cause != nil {
		d.deliver(sub, Result{Err: fmt.Errorf("%w: %v", ErrReadbackFailed, cause)})
		return
	}
	if n := d.backend.TruncateReadback; n > 0 && n < len(data) {
		data = data[:n]
	}
	d.deliver(sub, Result{Data: data})
}

func (d *mockDevice) deliver(sub *mockSubmission, r Result) {
	sub.once.Do(func() {
		d.mu.Lock()
		delete(d.pending, sub)
		d.mu.Unlock()
		sub.done <- r
	})
}

func (d *mockDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.SimulateLoss(ErrClosed)
	return nil
}

type mockBuffer struct {
	label string
	data  []byte
}

func (b *mockBuffer) Label() string { return b.label }
func (b *mockBuffer) Size() uint64  { return uint64(len(b.data)) }
func (b *mockBuffer) Destroy()      { b.data = nil }

type mockPipeline struct {
	name   string
	kernel Kernel
}

func (p *mockPipeline) Name() string { return p.name }

type mockSubmission struct {
	once sync.Once
	done chan Result
}

func (s *mockSubmission) Done() <-chan Result { return s.done }
