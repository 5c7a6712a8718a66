package gpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// mapTimeout bounds how long a submission may wait for its staging buffer to
// map before the readback is abandoned.
const mapTimeout = 5 * time.Second

// WebGPUBackend opens devices through github.com/openfluke/webgpu.
type WebGPUBackend struct{}

// NewWebGPUBackend returns the WebGPU backend.
func NewWebGPUBackend() *WebGPUBackend {
	return &WebGPUBackend{}
}

func (b *WebGPUBackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "webgpu",
		Version:     "0.0.2",
		Description: "WebGPU compute backend",
	}
}

// Available reports whether an adapter can be obtained on this machine.
func (b *WebGPUBackend) Available() bool {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return false
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || adapter == nil {
		return false
	}
	adapter.Release()
	return true
}

// Open selects an adapter, requests a logical device and starts the
// completion poller. High-performance adapters are preferred; low-power and
// default adapters are fallbacks.
func (b *WebGPUBackend) Open() (Device, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("%w: cannot create instance", ErrDeviceUnavailable)
	}

	var adapter *wgpu.Adapter
	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		adapter, err = inst.RequestAdapter(opts)
		if err == nil && adapter != nil {
			break
		}
	}
	if adapter == nil {
		inst.Release()
		return nil, fmt.Errorf("%w: no adapter: %v", ErrDeviceUnavailable, err)
	}

	native, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		inst.Release()
		return nil, fmt.Errorf("%w: request device: %v", ErrDeviceUnavailable, err)
	}

	info := adapter.GetInfo()
	limits := adapter.GetLimits()
	dev := &webgpuDevice{
		instance: inst,
		adapter:  adapter,
		native:   native,
		queue:    native.GetQueue(),
		info: DeviceInfo{
			Name:        info.Name,
			Vendor:      info.VendorName,
			Backend:     info.BackendType.String(),
			AdapterType: info.AdapterType.String(),
			Driver:      info.DriverDescription,
		},
		limits: DeviceLimits{
			MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupSizeY:          limits.Limits.MaxComputeWorkgroupSizeY,
			MaxComputeWorkgroupSizeZ:          limits.Limits.MaxComputeWorkgroupSizeZ,
			MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
			MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.Limits.MaxBufferSize,
		},
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		pollDone: make(chan struct{}),
		lost:     make(chan struct{}),
	}
	go dev.pollLoop()
	return dev, nil
}

type webgpuDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	native   *wgpu.Device
	queue    *wgpu.Queue
	info     DeviceInfo
	limits   DeviceLimits

	pending  atomic.Int64
	wake     chan struct{}
	quit     chan struct{}
	pollDone chan struct{}

	lostOnce sync.Once
	lost     chan struct{}
	lostErr  error

	closeOnce sync.Once
}

func (d *webgpuDevice) Info() DeviceInfo      { return d.info }
func (d *webgpuDevice) Limits() DeviceLimits  { return d.limits }
func (d *webgpuDevice) Lost() <-chan struct{} { return d.lost }
func (d *webgpuDevice) LostReason() error     { return d.lostErr }

func (d *webgpuDevice) markLost(reason error) {
	d.lostOnce.Do(func() {
		d.lostErr = reason
		close(d.lost)
	})
}

func (d *webgpuDevice) closed() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

func (d *webgpuDevice) NewBuffer(desc BufferDescriptor) (Buffer, error) {
	if d.closed() {
		return nil, ErrClosed
	}
	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	if desc.Usage == UsageStorage {
		usage |= wgpu.BufferUsageCopySrc
	}

	var buf *wgpu.Buffer
	var err error
	if desc.Contents != nil {
		buf, err = d.native.CreateBufferInit(&wgpu.BufferInitDescriptor{
			Label:    desc.Label,
			Contents: desc.Contents,
			Usage:    usage,
		})
	} else {
		buf, err = d.native.CreateBuffer(&wgpu.BufferDescriptor{
			Label: desc.Label,
			Size:  desc.Size,
			Usage: usage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}
	return &webgpuBuffer{label: desc.Label, native: buf}, nil
}

func (d *webgpuDevice) NewPipeline(desc PipelineDescriptor) (Pipeline, error) {
	if d.closed() {
		return nil, ErrClosed
	}
	module, err := d.native.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Name + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.WGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("compile shader %q: %w", desc.Name, err)
	}

	entry := desc.EntryPoint
	if entry == "" {
		entry = "main"
	}
	pipeline, err := d.native.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: desc.Name + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline %q: %w", desc.Name, err)
	}
	return &webgpuPipeline{name: desc.Name, native: pipeline}, nil
}

// Submit encodes one compute pass (when desc.Pipeline is set) and a copy of
// ReadbackFrom into a fresh staging buffer, then enqueues the command buffer.
// The mapped staging bytes are delivered on the Submission's Done channel
// once the poller observes completion.
func (d *webgpuDevice) Submit(desc SubmitDescriptor) (Submission, error) {
	if d.closed() {
		return nil, ErrClosed
	}
	select {
	case <-d.lost:
		return nil, fmt.Errorf("%w: %v", ErrDeviceLost, d.lostErr)
	default:
	}

	size := desc.ReadbackFrom.Size()
	staging, err := d.native.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label + "_Staging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: staging: %v", ErrSubmissionFailed, err)
	}

	encoder, err := d.native.CreateCommandEncoder(nil)
	if err != nil {
		staging.Destroy()
		return nil, fmt.Errorf("%w: encoder: %v", ErrSubmissionFailed, err)
	}

	if desc.Pipeline != nil {
		pipe := desc.Pipeline.(*webgpuPipeline)
		entries := make([]wgpu.BindGroupEntry, len(desc.Bindings))
		for i, b := range desc.Bindings {
			nb := b.(*webgpuBuffer).native
			entries[i] = wgpu.BindGroupEntry{
				Binding: uint32(i),
				Buffer:  nb,
				Size:    nb.GetSize(),
			}
		}
		bindGroup, err := d.native.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   desc.Label + "_Bind",
			Layout:  pipe.native.GetBindGroupLayout(0),
			Entries: entries,
		})
		if err != nil {
			staging.Destroy()
			return nil, fmt.Errorf("%w: bind group: %v", ErrSubmissionFailed, err)
		}
		defer bindGroup.Release()

		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(pipe.native)
		pass.SetBindGroup(0, bindGroup, nil)
		pass.DispatchWorkgroups(desc.Workgroups[0], desc.Workgroups[1], desc.Workgroups[2])
		pass.End()
	}

	src := desc.ReadbackFrom.(*webgpuBuffer).native
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)

	cmd, err := encoder.Finish(nil)
	if err != nil {
		staging.Destroy()
		return nil, fmt.Errorf("%w: finish: %v", ErrSubmissionFailed, err)
	}
	d.queue.Submit(cmd)

	sub := &webgpuSubmission{done: make(chan Result, 1)}
	settled := make(chan struct{})
	d.pending.Add(1)

	deliver := func(r Result) {
		sub.once.Do(func() {
			d.pending.Add(-1)
			sub.done <- r
			close(settled)
		})
	}

	err = staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			staging.Destroy()
			deliver(Result{Err: fmt.Errorf("%w: map status %v", ErrReadbackFailed, status)})
			return
		}
		mapped := staging.GetMappedRange(0, uint(size))
		if mapped == nil {
			staging.Unmap()
			staging.Destroy()
			deliver(Result{Err: fmt.Errorf("%w: nil mapped range", ErrReadbackFailed)})
			return
		}
		data := make([]byte, len(mapped))
		copy(data, mapped)
		staging.Unmap()
		staging.Destroy()
		deliver(Result{Data: data})
	})
	if err != nil {
		staging.Destroy()
		d.pending.Add(-1)
		return nil, fmt.Errorf("%w: map async: %v", ErrReadbackFailed, err)
	}

	// Abandon the readback if the device never maps the staging buffer.
	go func() {
		timer := time.NewTimer(mapTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			deliver(Result{Err: fmt.Errorf("%w: timed out after %v", ErrReadbackFailed, mapTimeout)})
		case <-d.quit:
			deliver(Result{Err: fmt.Errorf("%w: %v", ErrDeviceLost, ErrClosed)})
		case <-settled:
		}
	}()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return sub, nil
}

// pollLoop drives MapAsync callbacks while submissions are outstanding. The
// submitting goroutine never polls; it only waits on its Done channel.
func (d *webgpuDevice) pollLoop() {
	defer close(d.pollDone)
	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
		}
		for d.pending.Load() > 0 {
			select {
			case <-d.quit:
				return
			default:
			}
			d.native.Poll(false, nil)
			time.Sleep(time.Millisecond)
		}
	}
}

func (d *webgpuDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.markLost(ErrClosed)
		<-d.pollDone
		d.native.Release()
		d.adapter.Release()
		d.instance.Release()
	})
	return nil
}

type webgpuBuffer struct {
	label     string
	native    *wgpu.Buffer
	destroyed atomic.Bool
}

func (b *webgpuBuffer) Label() string { return b.label }
func (b *webgpuBuffer) Size() uint64  { return b.native.GetSize() }

func (b *webgpuBuffer) Destroy() {
	if b.destroyed.CompareAndSwap(false, true) {
		b.native.Destroy()
	}
}

type webgpuPipeline struct {
	name   string
	native *wgpu.ComputePipeline
}

func (p *webgpuPipeline) Name() string { return p.name }

type webgpuSubmission struct {
	once sync.Once
	done chan Result
}

func (s *webgpuSubmission) Done() <-chan Result { return s.done }
