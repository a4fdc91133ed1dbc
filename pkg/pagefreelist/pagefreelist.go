// Package pagefreelist tracks which pages in a DiskFile are unused and
// available for reallocation.
//
// Unlike the teacher's freelist, which threads a linked list of trunk pages
// each holding an array of leaf page numbers, PageFreeList keeps a flat
// bitmap (one bit per page number, set meaning free) and leaves any chain
// header in front of each serialized chunk to its caller. DiskFile stores
// the bitmap in the single freeListRootPageId page and chains no further
// pages: its checkpoint returns an internal error when the bitmap needs
// more than one page.
package pagefreelist

import "pagestore/pkg/bitset"

// PageFreeList is the free-page bitmap rooted at a DiskFile's
// freeListRootPageId.
type PageFreeList struct {
	bits *bitset.BitField
}

// New creates an empty free list.
func New() *PageFreeList {
	return &PageFreeList{bits: bitset.NewBitField(0)}
}

// FromBitField wraps an already-decoded bitmap, for Open reading the chain
// back from disk.
func FromBitField(b *bitset.BitField) *PageFreeList {
	return &PageFreeList{bits: b}
}

// MarkFree records pageNo as available for reallocation.
func (f *PageFreeList) MarkFree(pageNo uint32) {
	f.bits.Set(int(pageNo))
}

// MarkUsed removes pageNo from the free set, typically after Allocate
// handed it out or a caller is reserving it directly (e.g. at format time).
func (f *PageFreeList) MarkUsed(pageNo uint32) {
	f.bits.Clear(int(pageNo))
}

// IsFree reports whether pageNo is currently marked free.
func (f *PageFreeList) IsFree(pageNo uint32) bool {
	return f.bits.Get(int(pageNo))
}

// Allocate returns the lowest-numbered free page and marks it used, or
// false if none are free — DiskFile.AllocatePage falls back to extending
// the file when this returns false.
func (f *PageFreeList) Allocate() (uint32, bool) {
	n := f.bits.Len()
	for i := 0; i < n; i++ {
		if f.bits.Get(i) {
			f.bits.Clear(i)
			return uint32(i), true
		}
	}
	return 0, false
}

// Count returns the number of pages currently marked free.
func (f *PageFreeList) Count() int {
	return f.bits.Count()
}

// EncodeChunks splits the bitmap into pageSize-sized chunks, each chunk
// reserving headerSize bytes at its front for the caller's own chain
// header (e.g. the next page number in a chain of pages) and filling the
// remainder with raw bitmap payload. The last chunk is zero-padded to
// pageSize.
func (f *PageFreeList) EncodeChunks(pageSize, headerSize int) [][]byte {
	payload := f.bits.Encode()
	chunkPayload := pageSize - headerSize
	if chunkPayload <= 0 {
		panic("pagefreelist: pageSize too small for headerSize")
	}

	var chunks [][]byte
	for off := 0; off < len(payload) || len(chunks) == 0; off += chunkPayload {
		chunk := make([]byte, pageSize)
		end := off + chunkPayload
		if end > len(payload) {
			end = len(payload)
		}
		if off < len(payload) {
			copy(chunk[headerSize:], payload[off:end])
		}
		chunks = append(chunks, chunk)
		if end >= len(payload) {
			break
		}
	}
	return chunks
}

// DecodeChunks reassembles a PageFreeList from chunks previously produced
// by EncodeChunks, in chain order. Each chunk still carries its headerSize
// prefix, which is skipped here — the caller has already consumed it to
// walk the chain.
func DecodeChunks(chunks [][]byte, headerSize int) *PageFreeList {
	payload := make([]byte, 0, len(chunks)*256)
	for _, c := range chunks {
		if len(c) > headerSize {
			payload = append(payload, c[headerSize:]...)
		}
	}
	return FromBitField(bitset.Decode(payload))
}
