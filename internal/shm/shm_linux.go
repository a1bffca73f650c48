//go:build linux

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// segmentPrefix namespaces our files under /dev/shm so unrelated
// tmpfs content is never touched by Unlink.
const segmentPrefix = "shmchan_"

type regionHandle struct {
	fd   int
	path string
}

func segmentPath(name string) string {
	dir := "/dev/shm"
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = os.TempDir()
	}
	return filepath.Join(dir, segmentPrefix+name)
}

func createRegion(name string, size int) (*Region, error) {
	path := segmentPath(name)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600)
	if err != nil {
		if err == unix.EEXIST {
			return nil, fmt.Errorf("create %s: %w", path, ErrExist)
		}
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("ftruncate %s: %w", path, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Region{
		Data:   data,
		Name:   name,
		Size:   size,
		handle: regionHandle{fd: fd, path: path},
	}, nil
}

func openRegion(name string) (*Region, error) {
	path := segmentPath(name)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, fmt.Errorf("open %s: %w", path, ErrNotExist)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("fstat %s: %w", path, err)
	}
	size := int(st.Size)
	if size == 0 {
		// The creator has the file open but has not sized it yet.
		_ = unix.Close(fd)
		return nil, fmt.Errorf("open %s: segment not sized yet: %w", path, ErrNotExist)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Region{
		Data:   data,
		Name:   name,
		Size:   size,
		handle: regionHandle{fd: fd, path: path},
	}, nil
}

func closeRegion(r *Region) error {
	var firstErr error
	if err := unix.Munmap(r.Data); err != nil {
		firstErr = fmt.Errorf("munmap %s: %w", r.handle.path, err)
	}
	if err := unix.Close(r.handle.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close %s: %w", r.handle.path, err)
	}
	return firstErr
}

func unlinkRegion(name string) error {
	path := segmentPath(name)
	if err := unix.Unlink(path); err != nil {
		if err == unix.ENOENT {
			return fmt.Errorf("unlink %s: %w", path, ErrNotExist)
		}
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	return nil
}
