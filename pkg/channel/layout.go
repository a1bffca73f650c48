package channel

import (
	"fmt"
	"hash/fnv"

	"github.com/srediag/shm-channel/pkg/codec"
)

// HeaderSize is the byte length of the control region at the start of
// every segment. 64 bytes keeps the header on its own cache line.
const HeaderSize = 64

// Layout describes the byte geometry of a segment: the header followed
// by two slots of equal capacity. It is computed once from the element
// size and shape and never changes for the lifetime of a channel, so
// every process attaching under the same name derives identical
// offsets from the name alone.
type Layout struct {
	ElemSize     int
	Shape        []int
	SlotCapacity int
	TotalSize    int
}

// NewLayout validates shape and element size and computes the segment
// geometry. slotCapacity is the codec's exact encoded size for the
// shape.
func NewLayout(shape []int, elemSize, slotCapacity int) (Layout, error) {
	if elemSize <= 0 {
		return Layout{}, fmt.Errorf("%w: element size %d", ErrInvalidShape, elemSize)
	}
	if _, err := codec.NumElements(shape); err != nil {
		return Layout{}, fmt.Errorf("%w: %v", ErrInvalidShape, shape)
	}
	if slotCapacity <= 0 {
		return Layout{}, fmt.Errorf("%w: slot capacity %d", ErrInvalidShape, slotCapacity)
	}
	out := make([]int, len(shape))
	copy(out, shape)
	return Layout{
		ElemSize:     elemSize,
		Shape:        out,
		SlotCapacity: slotCapacity,
		TotalSize:    HeaderSize + 2*slotCapacity,
	}, nil
}

// SlotOffset returns the byte offset of slot idx within the segment.
func (l Layout) SlotOffset(idx uint32) int {
	return HeaderSize + int(idx)*l.SlotCapacity
}

// Fingerprint condenses element size and shape into a value stored in
// the header, so an attacher detects a shape disagreement even when
// two layouts happen to produce equal total sizes.
func (l Layout) Fingerprint() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v uint64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	put(uint64(l.ElemSize))
	put(uint64(len(l.Shape)))
	for _, d := range l.Shape {
		put(uint64(d))
	}
	return h.Sum64()
}
