package codec

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Binary is the default Codec: a flat header of shape metadata
// followed by the raw element bytes.
//
// Encoded form:
//
//	ndim   uint32
//	dims   ndim × uint64
//	count  uint64
//	data   count × elemSize bytes (element memory representation)
//
// Element bytes are the in-memory representation, so the encoding is
// exchangeable between processes on one machine, which is the only
// place a shared memory segment can be mapped anyway.
type Binary[T Element] struct{}

// EncodedSize implements Codec.
func (Binary[T]) EncodedSize(shape []int) (int, error) {
	n, err := NumElements(shape)
	if err != nil {
		return 0, err
	}
	return 4 + 8*len(shape) + 8 + n*ElemSize[T](), nil
}

// AppendEncode implements Codec.
func (Binary[T]) AppendEncode(dst []byte, a Array[T]) ([]byte, error) {
	n, err := NumElements(a.Shape)
	if err != nil {
		return dst, err
	}
	if len(a.Data) != n {
		return dst, fmt.Errorf("%w: shape wants %d elements, data has %d", ErrShapeMismatch, n, len(a.Data))
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(a.Shape)))
	for _, d := range a.Shape {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(d))
	}
	dst = binary.LittleEndian.AppendUint64(dst, uint64(n))
	dst = append(dst, elemBytes(a.Data)...)
	return dst, nil
}

// Decode implements Codec.
func (Binary[T]) Decode(b []byte, shape []int) (Array[T], error) {
	want, err := (Binary[T]{}).EncodedSize(shape)
	if err != nil {
		return Array[T]{}, err
	}
	if len(b) != want {
		return Array[T]{}, fmt.Errorf("%w: have %d bytes, shape %v wants %d", ErrMalformed, len(b), shape, want)
	}
	if got := binary.LittleEndian.Uint32(b); int(got) != len(shape) {
		return Array[T]{}, fmt.Errorf("%w: encoded ndim %d, expected %d", ErrShapeMismatch, got, len(shape))
	}
	off := 4
	for i, d := range shape {
		if got := binary.LittleEndian.Uint64(b[off:]); got != uint64(d) {
			return Array[T]{}, fmt.Errorf("%w: encoded dim[%d]=%d, expected %d", ErrShapeMismatch, i, got, d)
		}
		off += 8
	}
	n, _ := NumElements(shape)
	if got := binary.LittleEndian.Uint64(b[off:]); got != uint64(n) {
		return Array[T]{}, fmt.Errorf("%w: encoded count %d, expected %d", ErrMalformed, got, n)
	}
	off += 8

	data := make([]T, n)
	copy(elemBytes(data), b[off:])
	return Array[T]{Shape: cloneShape(shape), Data: data}, nil
}

// elemBytes views a []T as its backing bytes without copying.
func elemBytes[T Element](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*ElemSize[T]())
}
