package luma

import (
	"context"
	"fmt"

	"github.com/flipnoteman/Luma/gpu"
)

// Executor translates logical operation requests into device submissions and
// resolves results once the device signals completion.
//
// The submitting goroutine never blocks inside the driver: every submission
// hands back a completion channel, and Dispatch suspends on that channel, the
// caller's context, and the device's lost signal. Two overlapping dispatches
// against the same buffer are not serialized here; callers that need
// read-after-write ordering must await the first dispatch before issuing the
// second.
type Executor struct {
	dev    gpu.Device
	reg    *Registry
	limits gpu.DeviceLimits
}

func newExecutor(dev gpu.Device, reg *Registry) *Executor {
	return &Executor{dev: dev, reg: reg, limits: dev.Limits()}
}

// Dispatch runs the named operation against data in place and returns the
// readback bytes of the mutated buffer. shape describes data's dimensions and
// is bound read-only at slot 1 so the shader can reason about dimensionality.
//
// A registry miss returns ErrUnknownOperation and a dispatch the device's
// limits cannot express returns ErrSubmissionFailed, both before any device
// work is submitted. Cancelling ctx abandons the await only: the device still runs
// the operation to completion and the buffer reflects its side effect.
func (e *Executor) Dispatch(ctx context.Context, name string, data gpu.Buffer, shape Shape) ([]byte, error) {
	op, err := e.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	groups := workgroupsFor(shape.Elems(), op.WorkgroupSize)
	if err := e.checkLimits(groups, data.Size()); err != nil {
		return nil, err
	}

	dims, err := e.dev.NewBuffer(gpu.BufferDescriptor{
		Label:    name + "_Dims",
		Contents: shape.dimsBytes(),
		Usage:    gpu.UsageStorageRead,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dims buffer: %v", ErrSubmissionFailed, err)
	}

	logger().Debug("dispatch",
		"op", name,
		"elements", shape.Elems(),
		"workgroups", groups,
		"buffer_bytes", data.Size())

	sub, err := e.dev.Submit(gpu.SubmitDescriptor{
		Label:        name,
		Pipeline:     op.Pipeline,
		Bindings:     []gpu.Buffer{data, dims},
		Workgroups:   [3]uint32{groups, 1, 1},
		ReadbackFrom: data,
	})
	if err != nil {
		dims.Destroy()
		return nil, err
	}
	return e.await(ctx, sub, dims)
}

// Read submits a pure readback of buf with no compute pass.
func (e *Executor) Read(ctx context.Context, buf gpu.Buffer) ([]byte, error) {
	sub, err := e.dev.Submit(gpu.SubmitDescriptor{
		Label:        "readback",
		ReadbackFrom: buf,
	})
	if err != nil {
		return nil, err
	}
	return e.await(ctx, sub, nil)
}

// await suspends until the submission resolves, the caller cancels, or the
// device is lost. The relay goroutine always drains the completion channel so
// that a cancelled caller cannot strand the dims buffer: it is destroyed only
// after the device is done with it.
func (e *Executor) await(ctx context.Context, sub gpu.Submission, dims gpu.Buffer) ([]byte, error) {
	out := make(chan gpu.Result, 1)
	go func() {
		r := <-sub.Done()
		if dims != nil {
			dims.Destroy()
		}
		out <- r
	}()

	select {
	case r := <-out:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.dev.Lost():
		// Prefer the concrete result if it raced the lost signal.
		select {
		case r := <-out:
			if r.Err != nil {
				return nil, r.Err
			}
			return r.Data, nil
		default:
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceLost, e.dev.LostReason())
	}
}

// checkLimits rejects a dispatch the device cannot express before any buffer
// is created or work is submitted. Zero limits are unreported and pass.
func (e *Executor) checkLimits(groups uint32, bufBytes uint64) error {
	if max := e.limits.MaxComputeWorkgroupsPerDimension; max > 0 && groups > max {
		return fmt.Errorf("%w: %d workgroups exceeds device limit %d",
			ErrSubmissionFailed, groups, max)
	}
	if max := e.limits.MaxStorageBufferBindingSize; max > 0 && bufBytes > max {
		return fmt.Errorf("%w: %d byte binding exceeds device limit %d",
			ErrSubmissionFailed, bufBytes, max)
	}
	return nil
}

func workgroupsFor(elems uint64, size uint32) uint32 {
	if size == 0 {
		size = defaultWorkgroupSize
	}
	groups := (elems + uint64(size) - 1) / uint64(size)
	if groups == 0 {
		groups = 1
	}
	return uint32(groups)
}
