package luma

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/flipnoteman/Luma/gpu"
)

// Array is a device-resident N-dimensional numeric container. Its element
// data lives in a storage buffer exclusively owned by the Array; the buffer
// is mutated only through executor-mediated dispatches, never directly.
//
// Operations on an Array suspend the calling goroutine until the device
// signals completion, then return the materialized result. Concurrent
// operations on the same Array are permitted but not serialized: a caller
// that needs read-after-write ordering must await the first operation before
// issuing the second.
type Array[T Element] struct {
	id    string
	shape Shape
	dtype DType

	ctx      *Context
	buffer   gpu.Buffer
	released atomic.Bool
}

// New constructs an Array from flat element data and a shape descriptor,
// uploading the data into a newly allocated device buffer. It fails with
// ErrShapeMismatch — before any buffer is allocated — when the element count
// disagrees with the product of the declared dimensions.
func New[T Element](c *Context, data []T, shape Shape) (*Array[T], error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	if uint64(len(data)) != shape.Elems() {
		return nil, fmt.Errorf("%w: %d elements for shape %s (want %d)",
			ErrShapeMismatch, len(data), shape, shape.Elems())
	}

	id := uuid.NewString()
	buf, err := c.device.NewBuffer(gpu.BufferDescriptor{
		Label:    "Array_" + id[:8],
		Contents: toBytes(data),
		Usage:    gpu.UsageStorage,
	})
	if err != nil {
		return nil, err
	}

	return &Array[T]{
		id:     id,
		shape:  shape.clone(),
		dtype:  dtypeOf[T](),
		ctx:    c,
		buffer: buf,
	}, nil
}

// FromFlat builds an Array from literal values, replacing the construction
// macro of earlier prototypes with an ordinary variadic constructor.
func FromFlat[T Element](c *Context, shape Shape, values ...T) (*Array[T], error) {
	return New(c, values, shape)
}

// ID returns the array's unique identifier. No device access.
func (a *Array[T]) ID() string { return a.id }

// Shape returns a copy of the array's dimensions. No device access.
func (a *Array[T]) Shape() Shape { return a.shape.clone() }

// DType returns the array's element type tag.
func (a *Array[T]) DType() DType { return a.dtype }

// Len returns the total element count.
func (a *Array[T]) Len() int { return int(a.shape.Elems()) }

// Read copies the array's current contents back to the host without running
// any operation.
func (a *Array[T]) Read(ctx context.Context) ([]T, error) {
	if a.released.Load() {
		return nil, ErrReleased
	}
	data, err := a.ctx.executor.Read(ctx, a.buffer)
	if err != nil {
		return nil, err
	}
	return a.materialize(data)
}

// Apply dispatches the named registered operation against this array's
// buffer in place and returns the resulting elements.
func (a *Array[T]) Apply(ctx context.Context, op string) ([]T, error) {
	if a.released.Load() {
		return nil, ErrReleased
	}
	data, err := a.ctx.executor.Dispatch(ctx, op, a.buffer, a.shape)
	if err != nil {
		return nil, err
	}
	return a.materialize(data)
}

// Double runs the demonstration doubling operation: every element is
// multiplied by two.
func (a *Array[T]) Double(ctx context.Context) ([]T, error) {
	return a.Apply(ctx, "double")
}

// Release destroys the array's buffer. Further operations fail with
// ErrReleased. Releasing twice is a no-op.
func (a *Array[T]) Release() {
	if a.released.CompareAndSwap(false, true) {
		a.buffer.Destroy()
	}
}

// materialize reinterprets readback bytes as the array's element type.
func (a *Array[T]) materialize(data []byte) ([]T, error) {
	elems := fromBytes[T](data)
	if uint64(len(elems)) < a.shape.Elems() {
		return nil, fmt.Errorf("%w: %d bytes for %d elements",
			ErrReadbackFailed, len(data), a.shape.Elems())
	}
	out := make([]T, a.shape.Elems())
	copy(out, elems)
	return out, nil
}
