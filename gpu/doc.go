// Package gpu abstracts the compute device behind Luma.
//
// The package defines a small hardware abstraction: a Backend discovers and
// opens a Device, a Device allocates Buffers, compiles Pipelines from WGSL
// source and submits compute work. Completion is always signaled through a
// channel carried by the returned Submission, never by blocking the
// submitting goroutine inside the driver.
//
// Two backends ship with the package: a WebGPU backend built on
// github.com/openfluke/webgpu, and a CPU-backed mock backend used by tests
// and by machines without a usable adapter.
package gpu
