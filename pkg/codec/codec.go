// Package codec encodes shaped numeric arrays to and from the byte
// form stored inside a shared memory slot. Encodings are deterministic
// and round-trip exact, and the encoded size of a shape is known ahead
// of time so slot capacities can be computed without probing.
package codec

import (
	"errors"
	"unsafe"
)

// Element is the set of fixed-size numeric element types an Array may
// hold.
type Element interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

var (
	// ErrBadShape reports a shape with no dimensions or a
	// non-positive dimension extent.
	ErrBadShape = errors.New("codec: invalid shape")

	// ErrShapeMismatch reports an array whose data length or declared
	// shape disagrees with the expected shape.
	ErrShapeMismatch = errors.New("codec: shape mismatch")

	// ErrMalformed reports bytes that do not parse as an encoded
	// array of the expected shape.
	ErrMalformed = errors.New("codec: malformed encoding")
)

// Array is a shaped, typed value. Data holds the elements flattened in
// row-major order; len(Data) always equals the product of Shape.
type Array[T Element] struct {
	Shape []int
	Data  []T
}

// ElemSize returns the byte size of one element of type T.
func ElemSize[T Element]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// NumElements returns the element count for shape, or an error if the
// shape is empty or has a non-positive dimension.
func NumElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, ErrBadShape
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, ErrBadShape
		}
		n *= d
	}
	return n, nil
}

// ShapeEqual reports whether a and b are identical shapes.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NewArray builds an Array after checking data length against shape.
func NewArray[T Element](shape []int, data []T) (Array[T], error) {
	n, err := NumElements(shape)
	if err != nil {
		return Array[T]{}, err
	}
	if len(data) != n {
		return Array[T]{}, ErrShapeMismatch
	}
	return Array[T]{Shape: cloneShape(shape), Data: data}, nil
}

// Zeros returns a zero-valued Array of the given shape. It panics on
// an invalid shape; use NumElements first when the shape is untrusted.
func Zeros[T Element](shape []int) Array[T] {
	n, err := NumElements(shape)
	if err != nil {
		panic(err)
	}
	return Array[T]{Shape: cloneShape(shape), Data: make([]T, n)}
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

// Codec turns Arrays into bytes and back. Implementations must be
// deterministic: the same array always encodes to the same bytes, and
// EncodedSize is exact for every array of the given shape.
type Codec[T Element] interface {
	// EncodedSize returns the encoded byte length of any array of
	// shape.
	EncodedSize(shape []int) (int, error)

	// AppendEncode appends the encoding of a to dst and returns the
	// extended slice.
	AppendEncode(dst []byte, a Array[T]) ([]byte, error)

	// Decode parses b, which must hold an array of the expected
	// shape, into an independently owned Array.
	Decode(b []byte, shape []int) (Array[T], error)
}
