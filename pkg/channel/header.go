package channel

import (
	"encoding/binary"
	"fmt"

	"github.com/srediag/shm-channel/internal/shm"
)

// Header layout (all offsets 8-byte aligned where atomics apply):
//
//	0x00 magic       uint32  "SHMC"
//	0x04 version     uint32
//	0x08 totalSize   uint64
//	0x10 fingerprint uint64  layout fingerprint
//	0x18 generation  uint64  atomic, two increments per write
//	0x20 state       uint64  atomic, active index (high 32) | active len (low 32)
//	0x28 ...         reserved to HeaderSize
//
// The version, size and fingerprint words are written once by the
// owner and are immutable afterwards; the magic word is published
// last with a release store, so an attacher that loads a nonzero
// magic also sees every other identity word. Until then attachers
// read zero magic and treat the segment as not yet available.
// generation and state are the only mutable words; state
// carries the active slot index and its valid length in one word, so
// a single release-store commits both and no reader can pair a stale
// index with a fresh length.
const (
	headerMagic   = 0x53484d43 // "SHMC"
	headerVersion = 1

	offMagic       = 0x00
	offVersion     = 0x04
	offTotalSize   = 0x08
	offFingerprint = 0x10
	offGeneration  = 0x18
	offState       = 0x20
)

type header struct {
	b []byte
}

// init writes the immutable identity words and zeroes the mutable
// ones. Only the segment owner calls this. An attacher may validate
// concurrently, so the magic word goes last: it is the release store
// that makes the rest of the header visible.
func (h header) init(l Layout) {
	binary.LittleEndian.PutUint32(h.b[offVersion:], headerVersion)
	binary.LittleEndian.PutUint64(h.b[offTotalSize:], uint64(l.TotalSize))
	binary.LittleEndian.PutUint64(h.b[offFingerprint:], l.Fingerprint())
	shm.StoreUint64(h.b, offGeneration, 0)
	shm.StoreUint64(h.b, offState, 0)
	shm.StoreUint32(h.b, offMagic, headerMagic)
}

// validate checks an existing segment's header against the locally
// computed layout. The magic word is loaded with acquire ordering to
// pair with init's release store.
func (h header) validate(l Layout) error {
	if magic := shm.LoadUint32(h.b, offMagic); magic != headerMagic {
		if magic == 0 {
			return fmt.Errorf("%w: segment not initialized yet", ErrSegmentOpen)
		}
		return fmt.Errorf("%w: bad magic %#x", ErrIncompatibleLayout, magic)
	}
	if v := binary.LittleEndian.Uint32(h.b[offVersion:]); v != headerVersion {
		return fmt.Errorf("%w: header version %d, expected %d", ErrIncompatibleLayout, v, headerVersion)
	}
	if total := binary.LittleEndian.Uint64(h.b[offTotalSize:]); total != uint64(l.TotalSize) {
		return fmt.Errorf("%w: segment size %d, expected %d", ErrIncompatibleLayout, total, l.TotalSize)
	}
	if fp := binary.LittleEndian.Uint64(h.b[offFingerprint:]); fp != l.Fingerprint() {
		return fmt.Errorf("%w: segment was created with a different shape or element type", ErrIncompatibleLayout)
	}
	return nil
}

func (h header) generation() uint64 {
	return shm.LoadUint64(h.b, offGeneration)
}

func (h header) bumpGeneration() uint64 {
	return shm.AddUint64(h.b, offGeneration, 1)
}

// state returns the active slot index and the valid byte length of
// that slot, loaded as one atomic word.
func (h header) state() (idx uint32, length int) {
	s := shm.LoadUint64(h.b, offState)
	return uint32(s >> 32), int(uint32(s))
}

// commit publishes idx as the active slot holding length valid bytes.
// This store is the commit point of a write: it must happen after the
// slot bytes are fully copied.
func (h header) commit(idx uint32, length int) {
	shm.StoreUint64(h.b, offState, uint64(idx)<<32|uint64(uint32(length)))
}
