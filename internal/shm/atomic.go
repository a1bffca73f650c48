package shm

import (
	"sync/atomic"
	"unsafe"
)

// Atomic access to control words living inside a mapped region.
// Offsets must be naturally aligned for the word size; mmap returns
// page-aligned memory, so aligned offsets are aligned addresses.
// Go's atomics give the cross-process release/acquire ordering the
// commit protocol relies on.

// LoadUint32 atomically loads a uint32 at off within b.
func LoadUint32(b []byte, off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&b[off])))
}

// StoreUint32 atomically stores v at off within b.
func StoreUint32(b []byte, off int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&b[off])), v)
}

// LoadUint64 atomically loads a uint64 at off within b.
func LoadUint64(b []byte, off int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&b[off])))
}

// StoreUint64 atomically stores v at off within b.
func StoreUint64(b []byte, off int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&b[off])), v)
}

// AddUint64 atomically adds delta to the uint64 at off within b and
// returns the new value.
func AddUint64(b []byte, off int, delta uint64) uint64 {
	return atomic.AddUint64((*uint64)(unsafe.Pointer(&b[off])), delta)
}
