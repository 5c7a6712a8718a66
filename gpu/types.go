package gpu

// BackendInfo describes a backend implementation.
type BackendInfo struct {
	Name        string
	Version     string
	Description string
}

// DeviceInfo describes the device a backend opened.
type DeviceInfo struct {
	Name        string
	Vendor      string
	Backend     string
	AdapterType string
	Driver      string
}

// DeviceLimits is the compute-relevant subset of a device's limits. A zero
// field means the backend does not report that limit and callers must not
// enforce it.
type DeviceLimits struct {
	MaxComputeInvocationsPerWorkgroup uint32
	MaxComputeWorkgroupSizeX          uint32
	MaxComputeWorkgroupSizeY          uint32
	MaxComputeWorkgroupSizeZ          uint32
	MaxComputeWorkgroupsPerDimension  uint32
	MaxStorageBufferBindingSize       uint64
	MaxBufferSize                     uint64
}

// BufferUsage selects how a buffer may be bound by a pipeline.
type BufferUsage uint8

const (
	// UsageStorage is a read-write storage buffer that can also serve as the
	// source of a readback copy.
	UsageStorage BufferUsage = iota

	// UsageStorageRead is a read-only storage buffer, used for auxiliary
	// metadata such as dimension arrays.
	UsageStorageRead
)

// BufferDescriptor describes a buffer allocation. When Contents is non-nil
// the buffer is created initialized and Size is ignored.
type BufferDescriptor struct {
	Label    string
	Contents []byte
	Size     uint64
	Usage    BufferUsage
}

// PipelineDescriptor describes a compute pipeline compiled from WGSL source.
// WorkgroupSize must match the @workgroup_size declared by the shader; the
// caller uses it to size dispatches.
type PipelineDescriptor struct {
	Name          string
	WGSL          string
	EntryPoint    string
	WorkgroupSize uint32
}

// SubmitDescriptor describes one unit of submitted work: an optional compute
// pass followed by a readback copy.
//
// When Pipeline is nil no pass is encoded and the submission is a pure
// readback of ReadbackFrom — this is how host code reads an array without
// running an operation. Bindings are bound to shader slots in order, binding
// index i for Bindings[i].
type SubmitDescriptor struct {
	Label        string
	Pipeline     Pipeline
	Bindings     []Buffer
	Workgroups   [3]uint32
	ReadbackFrom Buffer
}

// Result is the outcome of one submission. Data holds the readback bytes of
// ReadbackFrom; it is owned by the receiver.
type Result struct {
	Data []byte
	Err  error
}
