package luma

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flipnoteman/Luma/gpu"
)

func TestConcurrentDistinctArrays(t *testing.T) {
	backend := gpu.NewMockBackend()
	backend.Latency = 20 * time.Millisecond
	c, err := NewContext(WithBackend(backend))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()

	a, err := New(c, []uint32{1, 2, 3, 4}, Shape{1, 2, 2})
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	defer a.Release()
	b, err := New(c, []uint32{10, 20, 30, 40}, Shape{1, 2, 2})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer b.Release()

	var g errgroup.Group
	var gotA, gotB []uint32
	g.Go(func() error {
		var err error
		gotA, err = a.Double(context.Background())
		return err
	})
	g.Go(func() error {
		var err error
		gotB, err = b.Double(context.Background())
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Double: %v", err)
	}

	wantA := []uint32{2, 4, 6, 8}
	wantB := []uint32{20, 40, 60, 80}
	for i := range wantA {
		if gotA[i] != wantA[i] {
			t.Errorf("a[%d]: got %d, want %d", i, gotA[i], wantA[i])
		}
		if gotB[i] != wantB[i] {
			t.Errorf("b[%d]: got %d, want %d", i, gotB[i], wantB[i])
		}
	}
}

func TestCancelledDispatchStillMutates(t *testing.T) {
	backend := gpu.NewMockBackend()
	backend.Latency = 50 * time.Millisecond
	c, err := NewContext(WithBackend(backend))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()

	arr, err := New(c, []uint32{5, 5}, Shape{2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer arr.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := arr.Double(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The in-flight dispatch still runs to completion; cancellation only
	// discards the result, it does not roll back the buffer mutation.
	time.Sleep(150 * time.Millisecond)
	got, err := arr.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, v := range got {
		if v != 10 {
			t.Errorf("element %d: got %d, want 10", i, v)
		}
	}
}

func TestDeviceLostResolvesAllPending(t *testing.T) {
	backend := gpu.NewMockBackend()
	backend.Latency = time.Second
	c, err := NewContext(WithBackend(backend))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()

	const pending = 4
	arrs := make([]*Array[uint32], pending)
	for i := range arrs {
		arrs[i], err = New(c, []uint32{1, 2}, Shape{2})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
	}

	results := make(chan error, pending)
	for _, arr := range arrs {
		go func(a *Array[uint32]) {
			_, err := a.Double(context.Background())
			results <- err
		}(arr)
	}

	// Let the dispatches get in flight, then kill the device.
	time.Sleep(20 * time.Millisecond)
	lossy := c.Device().(interface{ SimulateLoss(error) })
	lossy.SimulateLoss(errors.New("adapter reset"))

	deadline := time.After(500 * time.Millisecond)
	for i := 0; i < pending; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, ErrDeviceLost) {
				t.Errorf("pending dispatch %d: expected ErrDeviceLost, got %v", i, err)
			}
		case <-deadline:
			t.Fatalf("dispatch %d still hanging after device loss", i)
		}
	}

	// The context is unusable afterwards.
	if _, err := arrs[0].Double(context.Background()); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("post-loss dispatch: expected ErrDeviceLost, got %v", err)
	}
}

func TestOverlappingDispatchesSameArray(t *testing.T) {
	backend := gpu.NewMockBackend()
	backend.Latency = 10 * time.Millisecond
	c, err := NewContext(WithBackend(backend))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()

	arr, err := New(c, []uint32{1, 1, 1, 1}, Shape{1, 2, 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer arr.Release()

	// Two overlapping dispatches have no guaranteed relative ordering, but
	// after both complete the buffer reflects both mutations.
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := arr.Double(context.Background())
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("overlapping Double: %v", err)
	}

	got, err := arr.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, v := range got {
		if v != 4 {
			t.Errorf("element %d: got %d, want 4 after two doublings", i, v)
		}
	}
}

func TestReadbackFailureSurfaces(t *testing.T) {
	backend := gpu.NewMockBackend()
	backend.FailReadback = errors.New("map failed")
	c, err := NewContext(WithBackend(backend))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()

	arr, err := New(c, []uint32{1, 2}, Shape{2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer arr.Release()

	if _, err := arr.Double(context.Background()); !errors.Is(err, ErrReadbackFailed) {
		t.Errorf("Double: expected ErrReadbackFailed, got %v", err)
	}
	if _, err := arr.Read(context.Background()); !errors.Is(err, ErrReadbackFailed) {
		t.Errorf("Read: expected ErrReadbackFailed, got %v", err)
	}
}

func TestTruncatedReadbackRejected(t *testing.T) {
	backend := gpu.NewMockBackend()
	backend.TruncateReadback = 4
	c, err := NewContext(WithBackend(backend))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()

	arr, err := New(c, []uint32{1, 2, 3, 4}, Shape{1, 2, 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer arr.Release()

	// 4 of the 16 expected bytes arrive; materialization must refuse them.
	if _, err := arr.Read(context.Background()); !errors.Is(err, ErrReadbackFailed) {
		t.Errorf("Read: expected ErrReadbackFailed on short data, got %v", err)
	}
}

func TestDispatchExceedingDeviceLimits(t *testing.T) {
	backend := gpu.NewMockBackend()
	backend.Limits = gpu.DeviceLimits{
		MaxComputeInvocationsPerWorkgroup: 256,
		MaxComputeWorkgroupSizeX:          256,
		MaxComputeWorkgroupsPerDimension:  1,
		MaxStorageBufferBindingSize:       256,
	}
	c, err := NewContext(WithBackend(backend))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()

	// 128 elements need two workgroups of 64; the device allows one per
	// dimension.
	big := make([]uint32, 128)
	for i := range big {
		big[i] = uint32(i)
	}
	arr, err := New(c, big, Shape{2, 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer arr.Release()

	if _, err := arr.Double(context.Background()); !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}

	// The rejection happens before submission; the buffer is untouched.
	got, err := arr.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, v := range got {
		if v != uint32(i) {
			t.Errorf("element %d: got %d, want %d", i, v, i)
		}
	}
}

func TestDispatchExceedingBindingSize(t *testing.T) {
	backend := gpu.NewMockBackend()
	backend.Limits = gpu.DeviceLimits{
		MaxComputeInvocationsPerWorkgroup: 256,
		MaxComputeWorkgroupSizeX:          256,
		MaxComputeWorkgroupsPerDimension:  65535,
		MaxStorageBufferBindingSize:       16,
	}
	c, err := NewContext(WithBackend(backend))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer c.Close()

	arr, err := New(c, []uint32{1, 2, 3, 4, 5}, Shape{5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer arr.Release()

	if _, err := arr.Double(context.Background()); !errors.Is(err, ErrSubmissionFailed) {
		t.Errorf("expected ErrSubmissionFailed for 20 byte binding, got %v", err)
	}
}

func TestWorkgroupsFor(t *testing.T) {
	cases := []struct {
		elems uint64
		size  uint32
		want  uint32
	}{
		{1, 64, 1},
		{64, 64, 1},
		{65, 64, 2},
		{4096, 64, 64},
		{0, 64, 1},
		{10, 0, 1}, // zero size falls back to the default
	}
	for _, tc := range cases {
		if got := workgroupsFor(tc.elems, tc.size); got != tc.want {
			t.Errorf("workgroupsFor(%d, %d): got %d, want %d", tc.elems, tc.size, got, tc.want)
		}
	}
}
