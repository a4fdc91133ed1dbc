// Package page implements DataPage: a mutable byte buffer over one page's
// worth of file bytes, with a cursor-based reader/writer for the typed
// primitives records are built from, and a trailing CRC32 checksum.
package page

import (
	"encoding/binary"
	"hash/crc32"
	"sync"
)

// Type identifies what a page currently holds, stored in its first byte.
type Type byte

const (
	TypeEmpty    Type = 0x00
	TypeSystem   Type = 0x01
	TypeFreeList Type = 0x02
	TypeLog      Type = 0x03
	TypeData     Type = 0x04
)

// ChecksumSize is the number of trailing bytes reserved for the page's
// CRC32 checksum.
const ChecksumSize = 4

// DataPage is an in-memory view of one page's bytes, with a read/write
// cursor for typed access and pin/dirty bookkeeping for the cache above it.
type DataPage struct {
	mu     sync.RWMutex
	pageNo uint32
	data   []byte
	pos    int
	dirty  bool
	pinned int
}

// New creates a zeroed page of pageSize bytes.
func New(pageNo uint32, pageSize int) *DataPage {
	return &DataPage{pageNo: pageNo, data: make([]byte, pageSize)}
}

// WithData wraps an existing byte slice (e.g. a slice of a memory-mapped
// file) as a page, without copying it.
func WithData(pageNo uint32, data []byte) *DataPage {
	return &DataPage{pageNo: pageNo, data: data}
}

// PageNo returns the page's id within the file.
func (p *DataPage) PageNo() uint32 { return p.pageNo }

// Data returns the raw backing bytes. Callers that mutate it directly
// (bypassing the cursor) must call SetDirty themselves.
func (p *DataPage) Data() []byte { return p.data }

// Len returns the page size in bytes.
func (p *DataPage) Len() int { return len(p.data) }

// Type returns the page's type tag, stored in the first byte.
func (p *DataPage) Type() Type {
	if len(p.data) == 0 {
		return TypeEmpty
	}
	return Type(p.data[0])
}

// SetType sets the page's type tag.
func (p *DataPage) SetType(t Type) {
	if len(p.data) > 0 {
		p.data[0] = byte(t)
	}
}

// Reset moves the cursor to pos for a fresh sequence of reads or writes.
func (p *DataPage) Reset(pos int) { p.pos = pos }

// Position returns the cursor's current offset.
func (p *DataPage) Position() int { return p.pos }

// ReadInt32 reads a big-endian int32 at the cursor and advances it.
func (p *DataPage) ReadInt32() int32 {
	v := int32(binary.BigEndian.Uint32(p.data[p.pos : p.pos+4]))
	p.pos += 4
	return v
}

// WriteInt32 writes a big-endian int32 at the cursor and advances it.
func (p *DataPage) WriteInt32(v int32) {
	binary.BigEndian.PutUint32(p.data[p.pos:p.pos+4], uint32(v))
	p.pos += 4
	p.dirty = true
}

// ReadByte reads one byte at the cursor and advances it.
func (p *DataPage) ReadByte() byte {
	v := p.data[p.pos]
	p.pos++
	return v
}

// WriteByte writes one byte at the cursor and advances it.
func (p *DataPage) WriteByte(v byte) {
	p.data[p.pos] = v
	p.pos++
	p.dirty = true
}

// ReadBytes reads n bytes at the cursor and advances it. The returned slice
// aliases the page's backing array.
func (p *DataPage) ReadBytes(n int) []byte {
	v := p.data[p.pos : p.pos+n]
	p.pos += n
	return v
}

// WriteBytes copies src at the cursor and advances it by len(src).
func (p *DataPage) WriteBytes(src []byte) {
	copy(p.data[p.pos:p.pos+len(src)], src)
	p.pos += len(src)
	p.dirty = true
}

// IsDirty reports whether the page has been modified since last write-back.
func (p *DataPage) IsDirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

// SetDirty explicitly marks or clears the dirty flag.
func (p *DataPage) SetDirty(dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = dirty
}

// Pin increments the page's reference count, preventing eviction.
func (p *DataPage) Pin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned++
}

// Unpin decrements the reference count.
func (p *DataPage) Unpin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pinned > 0 {
		p.pinned--
	}
}

// IsPinned reports whether the page is currently referenced.
func (p *DataPage) IsPinned() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pinned > 0
}

// WriteChecksum computes the CRC32 of the page excluding its trailing
// ChecksumSize bytes and stores it there.
func (p *DataPage) WriteChecksum() {
	if len(p.data) <= ChecksumSize {
		return
	}
	sum := crc32.ChecksumIEEE(p.data[:len(p.data)-ChecksumSize])
	binary.BigEndian.PutUint32(p.data[len(p.data)-ChecksumSize:], sum)
}

// VerifyChecksum recomputes the page's checksum and compares it against the
// trailing stored value. A page whose trailer is all zero is treated as
// never having been checksummed and verifies trivially.
func (p *DataPage) VerifyChecksum() bool {
	if len(p.data) <= ChecksumSize {
		return true
	}
	trailer := p.data[len(p.data)-ChecksumSize:]
	stored := binary.BigEndian.Uint32(trailer)
	if stored == 0 {
		allZero := true
		for _, b := range trailer {
			if b != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			return true
		}
	}
	actual := crc32.ChecksumIEEE(p.data[:len(p.data)-ChecksumSize])
	return stored == actual
}
