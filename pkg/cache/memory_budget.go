// Package cache implements the record cache the core installs records
// into: position-keyed storage with LRU or 2Q eviction, and a byte-budget
// tracker that layers priority-aware eviction on top.
package cache

import (
	"sort"
	"sync"
	"time"
)

// DefaultMemoryLimit is the memory budget (256MB) NewMemoryBudget applies
// when it is given a non-positive limit.
const DefaultMemoryLimit = int64(256 * 1024 * 1024)

// DefaultPressureThreshold is the fraction of the limit at which pressure
// callbacks start firing.
const DefaultPressureThreshold = 0.8

// Priority represents how often an item has recently been touched.
type Priority int

const (
	PriorityCold Priority = iota
	PriorityWarm
	PriorityHot
)

// ItemInfo holds metadata about one tracked cache entry.
type ItemInfo struct {
	Key         string
	Size        int64
	Priority    Priority
	AccessCount int64
	LastAccess  time.Time
}

// MemoryBudgetStats summarizes current usage for diagnostics.
type MemoryBudgetStats struct {
	Limit           int64
	TotalUsage      int64
	ComponentUsage  map[string]int64
	IsUnderPressure bool
	IsExceeded      bool
}

// PressureCallback is invoked, on a transition into pressure, with the
// current usage and the configured limit.
type PressureCallback func(currentUsage, limit int64)

// MemoryBudget tracks byte usage across named components (the diskfile's
// record cache registers itself as "record_cache") and enforces a ceiling.
type MemoryBudget struct {
	mu                sync.RWMutex
	limit             int64
	pressureThreshold float64
	totalUsage        int64
	componentUsage    map[string]int64
	items             map[string]map[string]*ItemInfo
	pressureCallback  PressureCallback
	wasUnderPressure  bool
}

// NewMemoryBudget creates a budget with the given byte ceiling. A
// non-positive limit falls back to DefaultMemoryLimit.
func NewMemoryBudget(limit int64) *MemoryBudget {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &MemoryBudget{
		limit:             limit,
		pressureThreshold: DefaultPressureThreshold,
		componentUsage:    make(map[string]int64),
		items:             make(map[string]map[string]*ItemInfo),
	}
}

func (mb *MemoryBudget) Limit() int64 {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.limit
}

func (mb *MemoryBudget) SetLimit(limit int64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.limit = limit
}

func (mb *MemoryBudget) SetPressureThreshold(threshold float64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	mb.pressureThreshold = threshold
}

// RegisterComponent declares a named component for tracking, idempotently.
func (mb *MemoryBudget) RegisterComponent(name string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, exists := mb.componentUsage[name]; !exists {
		mb.componentUsage[name] = 0
		mb.items[name] = make(map[string]*ItemInfo)
	}
}

// Track adds untracked bytes to a component's usage, with no per-item key.
func (mb *MemoryBudget) Track(component string, bytes int64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.componentUsage[component] += bytes
	mb.totalUsage += bytes
	mb.checkPressure()
}

// Release removes bytes previously added with Track.
func (mb *MemoryBudget) Release(component string, bytes int64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	usage := mb.componentUsage[component]
	if bytes > usage {
		bytes = usage
	}
	mb.componentUsage[component] -= bytes
	mb.totalUsage -= bytes
	if mb.totalUsage < 0 {
		mb.totalUsage = 0
	}
}

// TrackWithPriority tracks a keyed item, making it a candidate for
// GetEvictionCandidates later.
func (mb *MemoryBudget) TrackWithPriority(component, key string, bytes int64, priority Priority) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.items[component] == nil {
		mb.items[component] = make(map[string]*ItemInfo)
	}
	mb.items[component][key] = &ItemInfo{
		Key:        key,
		Size:       bytes,
		Priority:   priority,
		LastAccess: time.Now(),
	}
	mb.componentUsage[component] += bytes
	mb.totalUsage += bytes
	mb.checkPressure()
}

// ReleaseItem drops a keyed item tracked with TrackWithPriority.
func (mb *MemoryBudget) ReleaseItem(component, key string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if items, ok := mb.items[component]; ok {
		if info, ok := items[key]; ok {
			mb.componentUsage[component] -= info.Size
			mb.totalUsage -= info.Size
			delete(items, key)
		}
	}
}

// RecordAccess bumps an item's access count, promoting Cold→Warm→Hot at
// fixed thresholds.
func (mb *MemoryBudget) RecordAccess(component, key string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	items, ok := mb.items[component]
	if !ok {
		return
	}
	info, ok := items[key]
	if !ok {
		return
	}
	info.AccessCount++
	info.LastAccess = time.Now()
	if info.AccessCount >= 10 && info.Priority < PriorityHot {
		info.Priority = PriorityHot
	} else if info.AccessCount >= 3 && info.Priority < PriorityWarm {
		info.Priority = PriorityWarm
	}
}

// GetItemInfo returns a copy of a tracked item's metadata, or nil.
func (mb *MemoryBudget) GetItemInfo(component, key string) *ItemInfo {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	items, ok := mb.items[component]
	if !ok {
		return nil
	}
	info, ok := items[key]
	if !ok {
		return nil
	}
	copied := *info
	return &copied
}

// DecayPriorities drops a component's items one priority tier if they
// haven't been touched within maxAge.
func (mb *MemoryBudget) DecayPriorities(component string, maxAge time.Duration) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := time.Now()
	items, ok := mb.items[component]
	if !ok {
		return
	}
	for _, info := range items {
		if now.Sub(info.LastAccess) > maxAge && info.Priority > PriorityCold {
			info.Priority--
		}
	}
}

// GetEvictionCandidates picks keys to evict to free bytesNeeded, ordered
// cold-and-oldest first.
func (mb *MemoryBudget) GetEvictionCandidates(component string, bytesNeeded int64) []string {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	items, ok := mb.items[component]
	if !ok || len(items) == 0 {
		return nil
	}

	type sortableItem struct {
		key  string
		info *ItemInfo
	}
	sorted := make([]sortableItem, 0, len(items))
	for key, info := range items {
		sorted = append(sorted, sortableItem{key: key, info: info})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].info.Priority != sorted[j].info.Priority {
			return sorted[i].info.Priority < sorted[j].info.Priority
		}
		return sorted[i].info.LastAccess.Before(sorted[j].info.LastAccess)
	})

	var candidates []string
	var freed int64
	for _, item := range sorted {
		if freed >= bytesNeeded {
			break
		}
		candidates = append(candidates, item.key)
		freed += item.info.Size
	}
	return candidates
}

func (mb *MemoryBudget) TotalUsage() int64 {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.totalUsage
}

func (mb *MemoryBudget) ComponentUsage(component string) int64 {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.componentUsage[component]
}

func (mb *MemoryBudget) IsUnderPressure() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return float64(mb.totalUsage) >= float64(mb.limit)*mb.pressureThreshold
}

func (mb *MemoryBudget) IsExceeded() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.totalUsage > mb.limit
}

// OnPressure registers the callback fired on each transition into pressure.
func (mb *MemoryBudget) OnPressure(callback PressureCallback) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.pressureCallback = callback
}

// checkPressure must be called while mb.mu is held.
func (mb *MemoryBudget) checkPressure() {
	isUnderPressure := float64(mb.totalUsage) >= float64(mb.limit)*mb.pressureThreshold

	if isUnderPressure && !mb.wasUnderPressure && mb.pressureCallback != nil {
		callback := mb.pressureCallback
		usage := mb.totalUsage
		limit := mb.limit
		mb.wasUnderPressure = true
		go callback(usage, limit)
	} else if !isUnderPressure {
		mb.wasUnderPressure = false
	}
}

// SetItemLastAccess overrides an item's last-access time, for tests that
// exercise DecayPriorities deterministically.
func (mb *MemoryBudget) SetItemLastAccess(component, key string, t time.Time) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if items, ok := mb.items[component]; ok {
		if info, ok := items[key]; ok {
			info.LastAccess = t
		}
	}
}

func (mb *MemoryBudget) Stats() MemoryBudgetStats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	componentUsage := make(map[string]int64, len(mb.componentUsage))
	for k, v := range mb.componentUsage {
		componentUsage[k] = v
	}

	return MemoryBudgetStats{
		Limit:           mb.limit,
		TotalUsage:      mb.totalUsage,
		ComponentUsage:  componentUsage,
		IsUnderPressure: float64(mb.totalUsage) >= float64(mb.limit)*mb.pressureThreshold,
		IsExceeded:      mb.totalUsage > mb.limit,
	}
}
