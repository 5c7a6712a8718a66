// Package detector probes the active compute backend and derives conservative
// dispatch recommendations from its device limits. The report is plain JSON
// so it can be logged, cached, or shipped alongside bug reports.
//
// The probe opens a device through the backend registry, so machines without
// a GPU still produce a report when a mock backend is registered.
package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flipnoteman/Luma/gpu"
)

// Report is a portable summary of the current backend/device capabilities.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	BackendName string            `json:"backend"`
	DeviceAPI   string            `json:"device_api"`
	AdapterType string            `json:"adapter_type"`
	Name        string            `json:"name"`
	Vendor      string            `json:"vendor"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Env         map[string]string `json:"env,omitempty"`
}

// Limits mirrors the compute-relevant device limits the backend reports.
type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupSizeY          uint32 `json:"max_compute_workgroup_size_y"`
	MaxComputeWorkgroupSizeZ          uint32 `json:"max_compute_workgroup_size_z"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// Recommendations are conservative dispatch parameters derived from the
// limits: a 1D workgroup that runs everywhere and a soft memory budget for
// staging buffers and temporaries.
type Recommendations struct {
	WorkgroupX  uint32 `json:"workgroup_x"`
	WorkgroupY  uint32 `json:"workgroup_y"`
	WorkgroupZ  uint32 `json:"workgroup_z"`
	BudgetBytes uint64 `json:"budget_bytes"`
}

// DetectJSON runs a probe and returns the report as indented JSON.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect opens a device on the active backend and synthesizes a report. The
// device is closed before returning; the probe leaves no state behind.
func Detect() (*Report, error) {
	backend, err := gpu.Active()
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	dev, err := backend.Open()
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	defer dev.Close()

	return buildReport(backend.Info(), dev.Info(), dev.Limits()), nil
}

func buildReport(binfo gpu.BackendInfo, dinfo gpu.DeviceInfo, limits gpu.DeviceLimits) *Report {
	wgX, wgY, wgZ := chooseWorkgroup(limits)

	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv("LUMA_BUDGET_MB"); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}

	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		BackendName: binfo.Name,
		DeviceAPI:   dinfo.Backend,
		AdapterType: dinfo.AdapterType,
		Name:        strings.TrimSpace(dinfo.Name),
		Vendor:      strings.TrimSpace(dinfo.Vendor),
		Driver:      strings.TrimSpace(dinfo.Driver),
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupSizeY:          limits.MaxComputeWorkgroupSizeY,
			MaxComputeWorkgroupSizeZ:          limits.MaxComputeWorkgroupSizeZ,
			MaxComputeWorkgroupsPerDimension:  limits.MaxComputeWorkgroupsPerDimension,
			MaxStorageBufferBindingSize:       limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.MaxBufferSize,
		},
		Recommended: Recommendations{
			WorkgroupX:  wgX,
			WorkgroupY:  wgY,
			WorkgroupZ:  wgZ,
			BudgetBytes: budget,
		},
		Env: pickEnv("LUMA_BUDGET_MB"),
	}
}

// chooseWorkgroup picks the largest power-of-two 1D workgroup the limits
// allow, preferring the sizes the shipped shaders are written for.
func chooseWorkgroup(l gpu.DeviceLimits) (uint32, uint32, uint32) {
	maxX := l.MaxComputeWorkgroupSizeX
	maxTot := l.MaxComputeInvocationsPerWorkgroup

	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= maxX && c <= maxTot {
			return c, 1, 1
		}
	}
	return 1, 1, 1
}

func pickEnv(keys ...string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
