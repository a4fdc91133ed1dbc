// Package filestore provides the thin byte-oriented file handle the rest of
// the page store is built on: seek, read-fully, write, length, set-length,
// over a single heap file with a stable header region.
package filestore

import (
	"pagestore/pkg/storeerr"
)

// backend abstracts the byte-addressable medium under a FileStore — a
// memory-mapped disk file or an in-memory buffer for ":memory:" stores.
type backend interface {
	Size() int64
	Slice(offset, length int) []byte
	Sync() error
	Grow(newSize int64) error
	Close() error
}

// FileStore is a seek/read/write/length/set-length view over one heap file.
// It never interprets the bytes it stores — DataPage and above own layout.
type FileStore struct {
	path string
	back backend
}

// Open opens or creates the file at path, sized to at least initialSize
// bytes. A path of ":memory:" opens an in-memory store instead of touching
// disk.
func Open(path string, initialSize int64) (*FileStore, error) {
	if path == ":memory:" {
		b, err := newMemoryBackend(initialSize)
		if err != nil {
			return nil, storeerr.Wrap("open", path, err)
		}
		return &FileStore{path: path, back: b}, nil
	}

	b, err := openMmapBackend(path, initialSize)
	if err != nil {
		return nil, storeerr.Wrap("open", path, err)
	}
	return &FileStore{path: path, back: b}, nil
}

// Path returns the path the store was opened with.
func (f *FileStore) Path() string { return f.path }

// Length returns the current length of the file in bytes.
func (f *FileStore) Length() int64 { return f.back.Size() }

// SetLength grows the file to at least newLength bytes. Shrinking is not
// supported — the store only ever grows in INCREMENT_PAGES chunks.
func (f *FileStore) SetLength(newLength int64) error {
	if newLength <= f.back.Size() {
		return nil
	}
	if err := f.back.Grow(newLength); err != nil {
		return storeerr.Wrap("setLength", f.path, err)
	}
	return nil
}

// ReadFully reads exactly length bytes at offset. The returned slice aliases
// the underlying storage — callers that need a stable copy must copy it
// themselves before the next mutation.
func (f *FileStore) ReadFully(offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+int64(length) > f.back.Size() {
		return nil, storeerr.New(storeerr.FileCorrupted, "readFully", f.path)
	}
	data := f.back.Slice(int(offset), length)
	if data == nil {
		return nil, storeerr.New(storeerr.FileCorrupted, "readFully", f.path)
	}
	return data, nil
}

// Write copies src into the file at offset. The destination range must
// already exist (use SetLength first).
func (f *FileStore) Write(offset int64, src []byte) error {
	dst, err := f.ReadFully(offset, len(src))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// Sync flushes pending writes to the underlying medium.
func (f *FileStore) Sync() error {
	if err := f.back.Sync(); err != nil {
		return storeerr.Wrap("sync", f.path, err)
	}
	return nil
}

// Close releases the file handle. Safe to call once; DiskFile.Open calls it
// on each of its own error paths.
func (f *FileStore) Close() error {
	if err := f.back.Close(); err != nil {
		return storeerr.Wrap("close", f.path, err)
	}
	return nil
}
