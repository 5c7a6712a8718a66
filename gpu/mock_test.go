package gpu

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func u32Bytes(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

func TestMockReadbackRoundTrip(t *testing.T) {
	dev, err := NewMockBackend().Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	buf, err := dev.NewBuffer(BufferDescriptor{Label: "data", Contents: u32Bytes(7, 8, 9), Usage: UsageStorage})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	sub, err := dev.Submit(SubmitDescriptor{Label: "read", ReadbackFrom: buf})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := <-sub.Done()
	if res.Err != nil {
		t.Fatalf("readback: %v", res.Err)
	}
	want := u32Bytes(7, 8, 9)
	for i := range want {
		if res.Data[i] != want[i] {
			t.Fatalf("byte %d: got %d, want %d", i, res.Data[i], want[i])
		}
	}
}

func TestMockDoubleKernel(t *testing.T) {
	dev, err := NewMockBackend().Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	pipe, err := dev.NewPipeline(PipelineDescriptor{Name: "double", WorkgroupSize: 64})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	data, _ := dev.NewBuffer(BufferDescriptor{Label: "data", Contents: u32Bytes(3, 1, 1, 1), Usage: UsageStorage})
	dims, _ := dev.NewBuffer(BufferDescriptor{Label: "dims", Contents: u32Bytes(1, 2, 2, 1), Usage: UsageStorageRead})

	sub, err := dev.Submit(SubmitDescriptor{
		Label:        "double",
		Pipeline:     pipe,
		Bindings:     []Buffer{data, dims},
		Workgroups:   [3]uint32{1, 1, 1},
		ReadbackFrom: data,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := <-sub.Done()
	if res.Err != nil {
		t.Fatalf("dispatch: %v", res.Err)
	}
	got := []uint32{}
	for i := 0; i+4 <= len(res.Data); i += 4 {
		got = append(got, binary.LittleEndian.Uint32(res.Data[i:]))
	}
	want := []uint32{6, 2, 2, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMockUnknownKernel(t *testing.T) {
	dev, err := NewMockBackend().Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	if _, err := dev.NewPipeline(PipelineDescriptor{Name: "no_such_op"}); !errors.Is(err, ErrUnknownKernel) {
		t.Errorf("expected ErrUnknownKernel, got %v", err)
	}
}

func TestMockFailReadback(t *testing.T) {
	backend := NewMockBackend()
	backend.FailReadback = errors.New("map failed")

	dev, err := backend.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	buf, _ := dev.NewBuffer(BufferDescriptor{Label: "data", Contents: u32Bytes(1, 2), Usage: UsageStorage})
	sub, err := dev.Submit(SubmitDescriptor{Label: "read", ReadbackFrom: buf})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := <-sub.Done()
	if !errors.Is(res.Err, ErrReadbackFailed) {
		t.Errorf("expected ErrReadbackFailed, got %v", res.Err)
	}
	if res.Data != nil {
		t.Errorf("failed readback carried %d bytes of data", len(res.Data))
	}
}

func TestMockTruncateReadback(t *testing.T) {
	backend := NewMockBackend()
	backend.TruncateReadback = 4

	dev, err := backend.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	buf, _ := dev.NewBuffer(BufferDescriptor{Label: "data", Contents: u32Bytes(1, 2, 3), Usage: UsageStorage})
	sub, err := dev.Submit(SubmitDescriptor{Label: "read", ReadbackFrom: buf})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := <-sub.Done()
	if res.Err != nil {
		t.Fatalf("readback: %v", res.Err)
	}
	if len(res.Data) != 4 {
		t.Errorf("got %d bytes, want 4", len(res.Data))
	}
}

func TestMockLimits(t *testing.T) {
	dev, err := NewMockBackend().Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()
	if l := dev.Limits(); l.MaxComputeWorkgroupSizeX == 0 || l.MaxComputeWorkgroupsPerDimension == 0 {
		t.Errorf("default limits not populated: %+v", l)
	}

	backend := NewMockBackend()
	backend.Limits = DeviceLimits{MaxComputeWorkgroupsPerDimension: 7}
	dev2, err := backend.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev2.Close()
	if got := dev2.Limits().MaxComputeWorkgroupsPerDimension; got != 7 {
		t.Errorf("limit override: got %d, want 7", got)
	}
}

func TestMockSimulateLossResolvesPending(t *testing.T) {
	backend := NewMockBackend()
	backend.Latency = time.Second

	dev, err := backend.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	buf, _ := dev.NewBuffer(BufferDescriptor{Label: "data", Contents: u32Bytes(1, 2), Usage: UsageStorage})
	sub, err := dev.Submit(SubmitDescriptor{Label: "read", ReadbackFrom: buf})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	dev.(*mockDevice).SimulateLoss(errors.New("driver reset"))

	select {
	case res := <-sub.Done():
		if !errors.Is(res.Err, ErrDeviceLost) {
			t.Errorf("expected ErrDeviceLost, got %v", res.Err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("pending submission hung after device loss")
	}

	// The lost device rejects new work outright.
	if _, err := dev.Submit(SubmitDescriptor{Label: "read", ReadbackFrom: buf}); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost on new submission, got %v", err)
	}
}
