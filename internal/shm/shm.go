// Package shm contains the platform-specific backend for named shared
// memory segments: create, open, unmap and unlink of a memory mapping
// shared between processes, plus atomic access helpers for control
// fields living inside a mapped region.
package shm

import "errors"

var (
	// ErrExist is returned by Create when a segment with the same name
	// already exists.
	ErrExist = errors.New("shm: segment already exists")

	// ErrNotExist is returned by Open and Unlink when no segment with
	// the given name exists.
	ErrNotExist = errors.New("shm: segment does not exist")
)

// Region is a named shared memory mapping held by this process.
//
// Data aliases the mapped bytes directly; it becomes invalid after
// Close. Size is the byte length reported by the OS for the mapping,
// which on some platforms may exceed the requested length due to
// page-granularity rounding.
type Region struct {
	Data []byte
	Name string
	Size int

	handle regionHandle
}

// Create creates a new named segment of the requested size and maps
// it. It fails with ErrExist if the name is already in use; creation
// is exclusive so that exactly one process becomes the segment owner.
func Create(name string, size int) (*Region, error) {
	return createRegion(name, size)
}

// Open maps an existing named segment. The returned Region reports the
// size the OS knows for the segment, not a caller expectation.
func Open(name string) (*Region, error) {
	return openRegion(name)
}

// Close unmaps the region and releases the process-local handle. The
// named segment itself stays alive for other processes until unlinked.
func (r *Region) Close() error {
	if r == nil || r.Data == nil {
		return nil
	}
	err := closeRegion(r)
	r.Data = nil
	return err
}

// Unlink removes the named segment object. Existing mappings in other
// processes remain usable until they unmap.
func Unlink(name string) error {
	return unlinkRegion(name)
}
