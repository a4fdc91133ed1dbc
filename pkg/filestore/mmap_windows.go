//go:build windows

package filestore

import (
	"errors"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsHandle holds the Windows-specific handles backing a mapping.
type windowsHandle struct {
	file       *os.File
	mapHandle  windows.Handle
	mappedSize int64
}

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

	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(size>>32), uint32(size&0xFFFFFFFF), nil)
	if err != nil {
		f.Close()
		return nil, err
	}

	addr, err := windows.MapViewOfFile(mapHandle,
		windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapHandle)
		f.Close()
		return nil, err
	}

	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = addr
	header.Len = int(size)
	header.Cap = int(size)

	handle := &windowsHandle{file: f, mapHandle: mapHandle, mappedSize: size}
	return &mmapBackend{file: handle, data: data, size: size}, nil
}

func (m *mmapBackend) Sync() error {
	if len(m.data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data)))
}

func (m *mmapBackend) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	handle := m.file.(*windowsHandle)

	if len(m.data) > 0 {
		if err := windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data))); err != nil {
			return err
		}
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil {
			return err
		}
	}

	if err := windows.CloseHandle(handle.mapHandle); err != nil {
		return err
	}
	if err := handle.file.Truncate(newSize); err != nil {
		return err
	}

	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(handle.file.Fd()), nil, windows.PAGE_READWRITE,
		uint32(newSize>>32), uint32(newSize&0xFFFFFFFF), nil)
	if err != nil {
		return err
	}

	addr, err := windows.MapViewOfFile(mapHandle,
		windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(newSize))
	if err != nil {
		windows.CloseHandle(mapHandle)
		return err
	}

	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = addr
	header.Len = int(newSize)
	header.Cap = int(newSize)

	handle.mapHandle = mapHandle
	handle.mappedSize = newSize
	m.data = data
	m.size = newSize
	return nil
}

func (m *mmapBackend) Close() error {
	var firstErr error

	handle, ok := m.file.(*windowsHandle)
	if !ok || handle == nil {
		return nil
	}

	if len(m.data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}

	if handle.mapHandle != 0 {
		if err := windows.CloseHandle(handle.mapHandle); err != nil && firstErr == nil {
			firstErr = err
		}
		handle.mapHandle = 0
	}

	if handle.file != nil {
		if err := handle.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		handle.file = nil
	}

	m.file = nil
	return firstErr
}
