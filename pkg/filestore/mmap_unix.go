//go:build unix || darwin || linux || freebsd || openbsd || netbsd

package filestore

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// openMmapBackend opens or creates path and memory-maps it, growing the
// file to initialSize first if it is smaller.
func openMmapBackend(path string, initialSize int64) (*mmapBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := stat.Size()
	if initialSize > size {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, err
		}
		size = initialSize
	}

	if size == 0 {
		f.Close()
		return nil, errors.New("cannot mmap empty file")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &mmapBackend{file: f, data: data, size: size}, nil
}

func (m *mmapBackend) Sync() error {
	if len(m.data) == 0 {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *mmapBackend) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	// Writes under MAP_SHARED land in the kernel page cache; sync before
	// unmapping so they are not lost across the remap.
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return err
	}
	if err := syscall.Munmap(m.data); err != nil {
		return err
	}

	f := m.file.(*os.File)
	if err := f.Truncate(newSize); err != nil {
		return err
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(newSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}

	m.data = data
	m.size = newSize
	return nil
}

func (m *mmapBackend) Close() error {
	var firstErr error

	if m.data != nil {
		if err := syscall.Munmap(m.data); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}

	if m.file != nil {
		f := m.file.(*os.File)
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.file = nil
	}

	return firstErr
}
