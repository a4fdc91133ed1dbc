package cache

import (
	"container/list"
	"fmt"
	"sort"
	"sync"

	"pagestore/pkg/record"
)

// Policy selects the eviction discipline a Cache uses.
type Policy int

const (
	// PolicyLRU evicts the least recently used entry.
	PolicyLRU Policy = iota
	// Policy2Q runs a small FIFO "in" queue ahead of the LRU "main" queue,
	// so a single scan through cold positions doesn't evict hot ones.
	Policy2Q
)

// Writer is the capability a Cache calls back into before discarding a
// dirty entry — the CacheWriter injected at construction, per the cache's
// component design: the cache holds a non-owning handle to it, breaking
// the cache/owner reference cycle.
type Writer interface {
	WriteBack(rec *record.Record) error
}

type cacheEntry struct {
	rec     *record.Record
	elem    *list.Element // element in lru (LRU) or am (2Q promoted)
	inA1In  bool          // 2Q only: still in the FIFO "in" queue
}

// Cache is the position-keyed record cache: find/update/remove plus
// eviction that writes dirty entries back through Writer before
// discarding them. A Cache is single-threaded with respect to the caller's
// monitor — it does not take its own lock beyond protecting its own
// bookkeeping from concurrent callers.
type Cache struct {
	mu       sync.Mutex
	policy   Policy
	capacity int
	writer   Writer
	budget   *MemoryBudget

	entries map[int]*cacheEntry
	lru     *list.List // PolicyLRU, and the "am" (main) queue for Policy2Q
	a1in    *list.List // Policy2Q only: FIFO queue for once-seen positions
	a1inCap int
}

// New creates a Cache bound to writer (which must not be nil) with room
// for capacity entries under policy. budget may be nil to disable
// memory-pressure-driven eviction.
func New(policy Policy, capacity int, writer Writer, budget *MemoryBudget) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	c := &Cache{
		policy:   policy,
		capacity: capacity,
		writer:   writer,
		budget:   budget,
		entries:  make(map[int]*cacheEntry),
		lru:      list.New(),
	}
	if policy == Policy2Q {
		c.a1in = list.New()
		c.a1inCap = capacity / 4
		if c.a1inCap < 1 {
			c.a1inCap = 1
		}
	}
	if budget != nil {
		budget.RegisterComponent("record_cache")
	}
	return c
}

// Find returns the record installed at pos, if any, and promotes it
// according to the configured policy.
func (c *Cache) Find(pos int) (*record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[pos]
	if !ok {
		return nil, false
	}

	switch c.policy {
	case Policy2Q:
		if e.inA1In {
			// Second touch: promote out of the FIFO "in" queue into "am".
			c.a1in.Remove(e.elem)
			e.inA1In = false
			e.elem = c.lru.PushFront(pos)
		} else {
			c.lru.MoveToFront(e.elem)
		}
	default:
		c.lru.MoveToFront(e.elem)
	}

	c.recordAccess(pos)
	return e.rec, true
}

// Update installs or overwrites the record at pos, evicting as needed.
func (c *Cache) Update(pos int, rec *record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[pos]; ok {
		e.rec = rec
		if e.inA1In {
			c.a1in.MoveToFront(e.elem)
		} else {
			c.lru.MoveToFront(e.elem)
		}
		c.trackMemory(pos, rec)
		c.evictIfNeeded()
		return
	}

	e := &cacheEntry{rec: rec}
	if c.policy == Policy2Q {
		e.inA1In = true
		e.elem = c.a1in.PushFront(pos)
	} else {
		e.elem = c.lru.PushFront(pos)
	}
	c.entries[pos] = e
	c.trackMemory(pos, rec)
	c.evictIfNeeded()
}

// Remove drops the entry at pos without writing it back — the caller has
// already handled (or explicitly discarded) any pending mutation.
func (c *Cache) Remove(pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(pos)
}

func (c *Cache) removeLocked(pos int) {
	e, ok := c.entries[pos]
	if !ok {
		return
	}
	if e.inA1In {
		c.a1in.Remove(e.elem)
	} else {
		c.lru.Remove(e.elem)
	}
	delete(c.entries, pos)
	c.releaseMemory(pos)
}

// GetAllChanged returns every record currently marked dirty, for checkpoint
// to snapshot and write back in position order.
func (c *Cache) GetAllChanged() []*record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*record.Record
	for _, e := range c.entries {
		if e.rec.Changed {
			out = append(out, e.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictIfNeeded must be called with c.mu held. It writes back and discards
// entries until the cache is within capacity and memory budget.
func (c *Cache) evictIfNeeded() {
	for len(c.entries) > c.capacity || c.underPressure() {
		pos, ok := c.pickVictim()
		if !ok {
			return
		}
		e := c.entries[pos]
		if e.rec.Changed {
			// Unlocked while calling out: the writer may itself need to
			// read cache state (e.g. to log the pre-image) without
			// deadlocking on this entry's removal.
			c.mu.Unlock()
			err := c.writer.WriteBack(e.rec)
			c.mu.Lock()
			if err != nil {
				// Leave the entry in place; the caller's next checkpoint
				// or eviction attempt will retry.
				return
			}
			e.rec.Changed = false
		}
		c.removeLocked(pos)
	}
}

func (c *Cache) underPressure() bool {
	return c.budget != nil && c.budget.IsExceeded()
}

// pickVictim selects the next eviction candidate: for 2Q, the back of the
// "in" queue while it holds more than a1inCap entries, otherwise the back of
// "am" (or of the "in" queue when "am" is empty); for LRU, the back of the
// single list.
func (c *Cache) pickVictim() (int, bool) {
	if c.policy == Policy2Q && c.a1in.Len() > 0 && c.a1in.Len() > c.a1inCap {
		elem := c.a1in.Back()
		return elem.Value.(int), true
	}
	elem := c.lru.Back()
	if elem == nil {
		if c.policy == Policy2Q {
			elem = c.a1in.Back()
		}
		if elem == nil {
			return 0, false
		}
	}
	return elem.Value.(int), true
}

func (c *Cache) trackMemory(pos int, rec *record.Record) {
	if c.budget == nil {
		return
	}
	key := fmt.Sprintf("pos_%d", pos)
	c.budget.TrackWithPriority("record_cache", key, int64(len(rec.Payload)), PriorityWarm)
}

func (c *Cache) releaseMemory(pos int) {
	if c.budget == nil {
		return
	}
	c.budget.ReleaseItem("record_cache", fmt.Sprintf("pos_%d", pos))
}

func (c *Cache) recordAccess(pos int) {
	if c.budget == nil {
		return
	}
	c.budget.RecordAccess("record_cache", fmt.Sprintf("pos_%d", pos))
}
