package gpu

import "errors"

var (
	// ErrNoBackend is returned when no backend is registered and the
	// built-in WebGPU backend is unavailable.
	ErrNoBackend = errors.New("luma/gpu: no backend registered")

	// ErrDeviceUnavailable is returned when a backend cannot obtain an
	// adapter or logical device.
	ErrDeviceUnavailable = errors.New("luma/gpu: device unavailable")

	// ErrDeviceLost is returned for submissions that were in flight, or
	// issued, after the device was lost. A lost device cannot be recovered;
	// callers must open a new one.
	ErrDeviceLost = errors.New("luma/gpu: device lost")

	// ErrSubmissionFailed is returned when command encoding or queue
	// submission fails at the driver level.
	ErrSubmissionFailed = errors.New("luma/gpu: submission failed")

	// ErrReadbackFailed is returned when result bytes cannot be mapped back
	// into host-visible memory after the device signaled completion.
	ErrReadbackFailed = errors.New("luma/gpu: readback failed")

	// ErrUnknownKernel is returned by the mock backend when a pipeline names
	// a kernel that was never registered.
	ErrUnknownKernel = errors.New("luma/gpu: unknown kernel")

	// ErrClosed is returned on use of a closed device.
	ErrClosed = errors.New("luma/gpu: device closed")
)
