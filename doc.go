// Package luma is a GPU-accelerated N-dimensional array library.
//
// An Array owns a device-resident storage buffer holding its flattened
// element data. Named operations — WGSL compute kernels compiled into the
// operation registry when a Context initializes — are dispatched against that
// buffer through the Executor and awaited without blocking a thread:
//
//	ctx, err := luma.Acquire()
//	if err != nil {
//		log.Fatal(err)
//	}
//	arr, err := luma.New(ctx, []uint32{3, 1, 1, 1}, luma.Shape{1, 2, 2})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer arr.Release()
//
//	doubled, err := arr.Double(context.Background())
//	// doubled == []uint32{6, 2, 2, 2}
//
// The compute device is abstracted by the gpu subpackage; machines without a
// usable adapter can run every code path against its mock backend.
package luma
