//go:build windows

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows has no unlink for pagefile-backed mappings; the object is
// reference counted and disappears with its last handle. Unlink is
// therefore a no-op and ownership only controls handle lifetime.

const segmentPrefix = "Local\\shmchan_"

type regionHandle struct {
	mapping windows.Handle
	addr    uintptr
}

func mappingName(name string) (*uint16, error) {
	return windows.UTF16PtrFromString(segmentPrefix + name)
}

func createRegion(name string, size int) (*Region, error) {
	namep, err := mappingName(name)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	h, err := windows.CreateFileMapping(
		windows.InvalidHandle, nil, windows.PAGE_READWRITE,
		uint32(uint64(size)>>32), uint32(uint64(size)&0xffffffff), namep)
	if err != nil {
		// x/sys reports ERROR_ALREADY_EXISTS even though a valid
		// handle to the existing mapping was returned.
		if err == windows.ERROR_ALREADY_EXISTS {
			if h != 0 {
				_ = windows.CloseHandle(h)
			}
			return nil, fmt.Errorf("create %s: %w", name, ErrExist)
		}
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return mapRegion(h, name, size)
}

func openRegion(name string) (*Region, error) {
	namep, err := mappingName(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	h, err := windows.OpenFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, namep)
	if err != nil {
		if err == windows.ERROR_FILE_NOT_FOUND {
			return nil, fmt.Errorf("open %s: %w", name, ErrNotExist)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return mapRegion(h, name, 0)
}

func mapRegion(h windows.Handle, name string, size int) (*Region, error) {
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("map view %s: %w", name, err)
	}
	if size == 0 {
		var info windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
			_ = windows.UnmapViewOfFile(addr)
			_ = windows.CloseHandle(h)
			return nil, fmt.Errorf("virtual query %s: %w", name, err)
		}
		size = int(info.RegionSize)
	}
	return &Region{
		Data:   unsafe.Slice((*byte)(unsafe.Pointer(addr)), size),
		Name:   name,
		Size:   size,
		handle: regionHandle{mapping: h, addr: addr},
	}, nil
}

func closeRegion(r *Region) error {
	var firstErr error
	if err := windows.UnmapViewOfFile(r.handle.addr); err != nil {
		firstErr = fmt.Errorf("unmap view %s: %w", r.Name, err)
	}
	if err := windows.CloseHandle(r.handle.mapping); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close handle %s: %w", r.Name, err)
	}
	return firstErr
}

func unlinkRegion(name string) error {
	return nil
}
