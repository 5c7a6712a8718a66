package luma

import (
	"errors"

	"github.com/flipnoteman/Luma/gpu"
)

// Device-level failures surface unchanged from the gpu package so that
// errors.Is works no matter which layer produced them.
var (
	ErrDeviceUnavailable = gpu.ErrDeviceUnavailable
	ErrDeviceLost        = gpu.ErrDeviceLost
	ErrSubmissionFailed  = gpu.ErrSubmissionFailed
	ErrReadbackFailed    = gpu.ErrReadbackFailed
)

var (
	// ErrShapeMismatch is returned when the element count of the supplied
	// data disagrees with the product of the declared dimensions, or the
	// shape exceeds the supported rank.
	ErrShapeMismatch = errors.New("luma: shape mismatch")

	// ErrUnknownOperation is returned for operation names absent from the
	// registry. Lookup failures have no side effect on any buffer.
	ErrUnknownOperation = errors.New("luma: unknown operation")

	// ErrReleased is returned on use of an array whose buffer was released.
	ErrReleased = errors.New("luma: array released")
)
