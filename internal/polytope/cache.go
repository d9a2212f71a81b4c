package polytope

import (
	"container/list"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"
	"sync"
)

// Cache is a bounded LRU cache of LMO results keyed by (constraint set,
// gradient). No general-purpose LRU library appears anywhere in the
// retrieved corpus, so this is a small hand-rolled map+list cache — the
// same shape as the teacher's bounded in-memory maps elsewhere, just with
// eviction order tracked explicitly.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	hits     int
	misses   int
}

type cacheEntry struct {
	key   string
	value []float64
}

// NewCache builds a Cache holding at most maxSize entries.
func NewCache(maxSize int) *Cache {
	return &Cache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get looks up a previously computed vertex for this constraint set and
// gradient.
func (c *Cache) Get(constraints []Constraint, gradient []float64) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashKey(constraints, gradient)
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return append([]float64(nil), el.Value.(*cacheEntry).value...), true
}

// Put stores a computed vertex, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache) Put(constraints []Constraint, gradient []float64, value []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return
	}

	key := hashKey(constraints, gradient)
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = append([]float64(nil), value...)
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	entry := &cacheEntry{key: key, value: append([]float64(nil), value...)}
	el := c.order.PushFront(entry)
	c.entries[key] = el
}

// Stats returns (hits, misses) since construction.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// hashKey builds a stable cache key from a sorted representation of the
// constraint set plus the gradient vector, mirroring the original's
// sort-then-hash approach so equivalent constraint sets in different
// orders collide to the same key.
func hashKey(constraints []Constraint, gradient []float64) string {
	h := sha256.New()

	sorted := append([]Constraint(nil), constraints...)
	sort.Slice(sorted, func(i, j int) bool {
		return constraintSortKey(sorted[i]) < constraintSortKey(sorted[j])
	})
	buf := make([]byte, 8)
	for _, c := range sorted {
		h.Write([]byte(c.Sense))
		indices := make([]int, 0, len(c.Coeffs))
		for idx := range c.Coeffs {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			binary.LittleEndian.PutUint64(buf, uint64(idx))
			h.Write(buf)
			binary.LittleEndian.PutUint64(buf, math.Float64bits(c.Coeffs[idx]))
			h.Write(buf)
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(c.RHS))
		h.Write(buf)
	}

	for _, g := range gradient {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(g))
		h.Write(buf)
	}

	return string(h.Sum(nil))
}

// constraintSortKey gives a stable total order over constraints for
// hashing, independent of map iteration order.
func constraintSortKey(c Constraint) string {
	indices := make([]int, 0, len(c.Coeffs))
	for idx := range c.Coeffs {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	key := string(c.Sense)
	for _, idx := range indices {
		key += string(rune(idx))
	}
	return key
}
