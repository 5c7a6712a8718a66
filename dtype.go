package luma

import "unsafe"

// Element constrains the numeric types an Array may hold. The element type is
// declared explicitly per Array; it is never inferred from literal syntax.
type Element interface {
	~uint32 | ~uint64 | ~float32
}

// DType tags an Array's element type at runtime so buffer sizes and readback
// reinterpretation do not depend on the generic instantiation.
type DType uint8

const (
	DTypeUint32 DType = iota
	DTypeUint64
	DTypeFloat32
)

// Size returns the element width in bytes.
func (d DType) Size() uint64 {
	switch d {
	case DTypeUint64:
		return 8
	default:
		return 4
	}
}

func (d DType) String() string {
	switch d {
	case DTypeUint32:
		return "uint32"
	case DTypeUint64:
		return "uint64"
	case DTypeFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

func dtypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case uint64:
		return DTypeUint64
	case float32:
		return DTypeFloat32
	default:
		return DTypeUint32
	}
}

// toBytes reinterprets a slice of elements as its underlying bytes, matching
// the layout the device sees.
func toBytes[T Element](data []T) []byte {
	if len(data) == 0 {
		return []byte{}
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(zero)))
}

// fromBytes reinterprets readback bytes as elements. The result aliases data.
func fromBytes[T Element](data []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(data) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), len(data)/size)
}
