package gpu

import "sync"

// Backend is implemented by compute backends (WebGPU, mock).
// It is responsible for device discovery and for opening devices.
type Backend interface {
	Info() BackendInfo
	Available() bool
	Open() (Device, error)
}

// Device is an opened logical device plus its command queue.
//
// Submit never blocks on the GPU: it encodes and enqueues the work, then
// returns a Submission whose Done channel receives exactly one Result, even
// when the device is lost mid-flight.
type Device interface {
	Info() DeviceInfo
	Limits() DeviceLimits
	NewBuffer(desc BufferDescriptor) (Buffer, error)
	NewPipeline(desc PipelineDescriptor) (Pipeline, error)
	Submit(desc SubmitDescriptor) (Submission, error)

	// Lost is closed when the device is irrecoverably lost. LostReason
	// reports why; it is valid only after Lost is closed.
	Lost() <-chan struct{}
	LostReason() error

	Close() error
}

// Buffer is a device-resident memory allocation.
type Buffer interface {
	Label() string
	Size() uint64
	Destroy()
}

// Pipeline is an opaque compiled compute operation.
type Pipeline interface {
	Name() string
}

// Submission correlates one submitted command buffer with its completion
// signal.
type Submission interface {
	// Done receives exactly one Result and is never closed without one.
	Done() <-chan Result
}

var (
	backendMu sync.RWMutex
	backend   Backend
)

// Register installs b as the process backend. Passing nil clears the
// registration, restoring the default WebGPU backend.
func Register(b Backend) {
	backendMu.Lock()
	backend = b
	backendMu.Unlock()
}

// Active returns the registered backend, falling back to the built-in WebGPU
// backend when none is registered. ErrNoBackend is returned when neither is
// available on this machine.
func Active() (Backend, error) {
	backendMu.RLock()
	b := backend
	backendMu.RUnlock()
	if b != nil {
		return b, nil
	}
	wb := NewWebGPUBackend()
	if !wb.Available() {
		return nil, ErrNoBackend
	}
	return wb, nil
}
