package filestore

// memoryBackend implements backend over an in-memory byte slice, used for
// ":memory:" stores where no disk I/O should occur at all.
type memoryBackend struct {
	data []byte
	size int64
}

func newMemoryBackend(initialSize int64) (*memoryBackend, error) {
	if initialSize <= 0 {
		initialSize = 4096
	}
	return &memoryBackend{
		data: make([]byte, initialSize),
		size: initialSize,
	}, nil
}

func (m *memoryBackend) Size() int64 { return m.size }

func (m *memoryBackend) Slice(offset, length int) []byte {
	if offset < 0 || length < 0 || offset+length > len(m.data) {
		return nil
	}
	return m.data[offset : offset+length]
}

func (m *memoryBackend) Sync() error { return nil }

func (m *memoryBackend) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, m.data)
	m.data = grown
	m.size = newSize
	return nil
}

func (m *memoryBackend) Close() error {
	m.data = nil
	m.size = 0
	return nil
}
