package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is a single cached value. It belongs to exactly one region.
type entry struct {
	key      string
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.storedAt) >= e.ttl
}

// Region is a bounded LRU with per-entry expiry. Expired entries are dropped
// lazily on lookup or by Sweep.
type Region struct {
	name string
	now  func() time.Time

	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	lruList  *list.List

	// Statistics
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewRegion creates a region holding at most capacity entries, each living ttl
// unless overridden on Put. A non-positive ttl means entries never expire.
func NewRegion(name string, capacity int, ttl time.Duration) *Region {
	if capacity < 1 {
		capacity = 1
	}
	return &Region{
		name:     name,
		now:      time.Now,
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Name returns the region name
func (r *Region) Name() string {
	return r.name
}

// Get returns the value for key if present and unexpired.
func (r *Region) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, exists := r.items[key]
	if !exists {
		r.misses++
		return nil, false
	}

	e := elem.Value.(*entry)
	if e.expired(r.now()) {
		r.removeElement(elem)
		r.expirations++
		r.misses++
		return nil, false
	}

	// Move to front (most recently used)
	r.lruList.MoveToFront(elem)
	r.hits++
	return e.value, true
}

// Put inserts or overwrites key. Overwriting refreshes value, expiry and
// recency. A non-positive ttl uses the region default.
func (r *Region) Put(key string, value any, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ttl <= 0 {
		ttl = r.ttl
	}
	now := r.now()

	if elem, exists := r.items[key]; exists {
		e := elem.Value.(*entry)
		e.value = value
		e.storedAt = now
		e.ttl = ttl
		r.lruList.MoveToFront(elem)
		return
	}

	// Make room first so the region never holds more than capacity.
	for r.lruList.Len() >= r.capacity {
		r.evictOldest()
	}

	elem := r.lruList.PushFront(&entry{
		key:      key,
		value:    value,
		storedAt: now,
		ttl:      ttl,
	})
	r.items[key] = elem
}

// Invalidate removes key. It reports whether the key was present.
func (r *Region) Invalidate(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, exists := r.items[key]
	if !exists {
		return false
	}
	r.removeElement(elem)
	return true
}

// Clear removes all entries but keeps statistics.
func (r *Region) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make(map[string]*list.Element)
	r.lruList = list.New()
}

// Sweep drops every expired entry and returns how many were removed.
func (r *Region) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for elem := r.lruList.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry).expired(now) {
			r.removeElement(elem)
			r.expirations++
			removed++
		}
		elem = prev
	}
	return removed
}

// Resize changes capacity and default TTL, evicting LRU entries that no longer
// fit. Existing entries keep the TTL they were stored with.
func (r *Region) Resize(capacity int, ttl time.Duration) {
	if capacity < 1 {
		capacity = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.capacity = capacity
	r.ttl = ttl
	for r.lruList.Len() > r.capacity {
		r.evictOldest()
	}
}

// Len returns the number of stored entries, expired or not.
func (r *Region) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lruList.Len()
}

// evictOldest removes the least recently used item
func (r *Region) evictOldest() {
	elem := r.lruList.Back()
	if elem == nil {
		return
	}
	r.removeElement(elem)
	r.evictions++
}

func (r *Region) removeElement(elem *list.Element) {
	r.lruList.Remove(elem)
	delete(r.items, elem.Value.(*entry).key)
}

// Stats holds region statistics
type Stats struct {
	Region      string        `json:"region"`
	Items       int           `json:"items"`
	Capacity    int           `json:"capacity"`
	TTL         time.Duration `json:"ttl"`
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Evictions   int64         `json:"evictions"`
	Expirations int64         `json:"expirations"`
}

// HitRate calculates the cache hit rate
func (s *Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns current region statistics
func (r *Region) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Region:      r.name,
		Items:       r.lruList.Len(),
		Capacity:    r.capacity,
		TTL:         r.ttl,
		Hits:        r.hits,
		Misses:      r.misses,
		Evictions:   r.evictions,
		Expirations: r.expirations,
	}
}
