package bitset

import "sort"

// IntArray is a sorted, deduplicated array of non-negative ints with
// value-ordered insert/remove and "find next ≥ v" — the structure behind
// Storage's sorted page list.
type IntArray struct {
	vals []int
}

// NewIntArray creates an empty IntArray.
func NewIntArray() *IntArray { return &IntArray{} }

// Len returns the number of values.
func (a *IntArray) Len() int { return len(a.vals) }

// Values returns the values in ascending order. The returned slice aliases
// the array's backing storage and must not be mutated by the caller.
func (a *IntArray) Values() []int { return a.vals }

// At returns the value at position i.
func (a *IntArray) At(i int) int { return a.vals[i] }

// Contains reports whether v is present.
func (a *IntArray) Contains(v int) bool {
	i := sort.SearchInts(a.vals, v)
	return i < len(a.vals) && a.vals[i] == v
}

// Insert adds v in sorted position. Inserting an already-present value is a
// no-op.
func (a *IntArray) Insert(v int) {
	i := sort.SearchInts(a.vals, v)
	if i < len(a.vals) && a.vals[i] == v {
		return
	}
	a.vals = append(a.vals, 0)
	copy(a.vals[i+1:], a.vals[i:])
	a.vals[i] = v
}

// Remove deletes v if present; it is a no-op otherwise.
func (a *IntArray) Remove(v int) {
	i := sort.SearchInts(a.vals, v)
	if i >= len(a.vals) || a.vals[i] != v {
		return
	}
	a.vals = append(a.vals[:i], a.vals[i+1:]...)
}

// IndexOf returns the position of v via binary search, or -1 if absent.
func (a *IntArray) IndexOf(v int) int {
	i := sort.SearchInts(a.vals, v)
	if i < len(a.vals) && a.vals[i] == v {
		return i
	}
	return -1
}

// FindNextGE returns the smallest value ≥ v, and whether one exists.
func (a *IntArray) FindNextGE(v int) (int, bool) {
	i := sort.SearchInts(a.vals, v)
	if i >= len(a.vals) {
		return 0, false
	}
	return a.vals[i], true
}
