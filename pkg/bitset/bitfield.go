// Package bitset provides the two small structures the allocator is built
// from: a dense BitField over block indices, and a sorted IntArray used for
// each Storage's page list.
package bitset

import "math/bits"

// BitField is a dense, growable bit-set over non-negative indices, used for
// the DiskFile-wide "used" block bitmap and the PageFreeList's free-page
// bitmap.
type BitField struct {
	words []uint64
}

// NewBitField creates a BitField with room for at least n bits, all clear.
func NewBitField(n int) *BitField {
	return &BitField{words: make([]uint64, wordsFor(n))}
}

func wordsFor(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 63) / 64
}

func (b *BitField) ensure(n int) {
	need := wordsFor(n + 1)
	if need <= len(b.words) {
		return
	}
	grown := make([]uint64, need)
	copy(grown, b.words)
	b.words = grown
}

// Len returns the number of addressable bits (a conservative upper bound,
// not the highest set bit).
func (b *BitField) Len() int { return len(b.words) * 64 }

// Get reports whether bit i is set.
func (b *BitField) Get(i int) bool {
	w := i / 64
	if w < 0 || w >= len(b.words) {
		return false
	}
	return b.words[w]&(1<<uint(i%64)) != 0
}

// Set sets bit i, growing the bit set if necessary.
func (b *BitField) Set(i int) {
	b.ensure(i)
	b.words[i/64] |= 1 << uint(i%64)
}

// Clear clears bit i.
func (b *BitField) Clear(i int) {
	if w := i / 64; w < len(b.words) {
		b.words[w] &^= 1 << uint(i%64)
	}
}

// Window64 returns the 64-bit word containing bit i, aligned to a 64-bit
// boundary, for getNext's fast-skip-over-empty-regions check.
func (b *BitField) Window64(i int) uint64 {
	w := i / 64
	if w < 0 || w >= len(b.words) {
		return 0
	}
	return b.words[w]
}

// AllZeroInWindow reports whether the 64-bit-aligned window containing bit
// i is entirely clear.
func (b *BitField) AllZeroInWindow(i int) bool {
	return b.Window64(i) == 0
}

// NextAligned64 rounds i up to the start of the next 64-bit-aligned window.
func NextAligned64(i int) int {
	return ((i / 64) + 1) * 64
}

// Count returns the number of set bits.
func (b *BitField) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// FindNextFree returns the smallest index ≥ from that is clear, growing the
// bit set conceptually (the returned index may be beyond Len()).
func (b *BitField) FindNextFree(from int) int {
	i := from
	for b.Get(i) {
		i++
	}
	return i
}

// Encode serializes the bit set to a byte slice (one bit per index,
// little-endian within each 64-bit word), for persisting PageFreeList pages.
func (b *BitField) Encode() []byte {
	out := make([]byte, len(b.words)*8)
	for i, w := range b.words {
		for j := 0; j < 8; j++ {
			out[i*8+j] = byte(w >> (8 * j))
		}
	}
	return out
}

// Decode reconstructs a BitField from bytes produced by Encode.
func Decode(data []byte) *BitField {
	words := make([]uint64, (len(data)+7)/8)
	for i := range words {
		var w uint64
		for j := 0; j < 8 && i*8+j < len(data); j++ {
			w |= uint64(data[i*8+j]) << (8 * j)
		}
		words[i] = w
	}
	return &BitField{words: words}
}
