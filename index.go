package cache

import "math/bits"

// maxTierCount bounds the number of priority tiers; occupancy is tracked in a uint64.
const maxTierCount = 64

// EvictionOrder selects which end of the priority range is evicted first.
type EvictionOrder int

const (
	EvictLowestFirst  EvictionOrder = iota // lower priority number is evicted first
	EvictHighestFirst                      // higher priority number is evicted first
)

func (o EvictionOrder) String() string {
	switch o {
	case EvictLowestFirst:
		return "lowest-first"
	case EvictHighestFirst:
		return "highest-first"
	default:
		return "unknown"
	}
}

// tier is a circular list around a sentinel root.
// root.next is the least recently used entry, root.prev the most recently used.
type tier[K comparable, V any] struct {
	root entry[K, V]
	len  int
}

func (t *tier[K, V]) init() {
	t.root.next = &t.root
	t.root.prev = &t.root
	t.root.heapIndex = noHeapIndex
	t.len = 0
}

func (t *tier[K, V]) front() *entry[K, V] {
	if t.len == 0 {
		return nil
	}
	return t.root.next
}

func (t *tier[K, V]) pushBack(e *entry[K, V]) {
	last := t.root.prev
	last.next = e
	e.prev = last
	e.next = &t.root
	t.root.prev = e
	t.len++
}

func (t *tier[K, V]) unlink(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
	t.len--
}

// moveToBack promotes e to most recently used; no-op when it already is.
func (t *tier[K, V]) moveToBack(e *entry[K, V]) {
	if t.root.prev == e {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev

	last := t.root.prev
	last.next = e
	e.prev = last
	e.next = &t.root
	t.root.prev = e
}

// evictionIndex groups live entries by priority tier and orders each tier by recency.
// The occupied bitmask is the ordered set of non-empty tiers, which makes victim
// selection independent of the entry count.
type evictionIndex[K comparable, V any] struct {
	tiers    []tier[K, V] // indexed by priority
	occupied uint64
	order    EvictionOrder
	len      int
}

func newEvictionIndex[K comparable, V any](maxPriority int, order EvictionOrder) *evictionIndex[K, V] {
	idx := &evictionIndex[K, V]{
		tiers: make([]tier[K, V], maxPriority+1),
		order: order,
	}
	idx.reset()
	return idx
}

func (idx *evictionIndex[K, V]) reset() {
	for i := range idx.tiers {
		idx.tiers[i].init()
	}
	idx.occupied = 0
	idx.len = 0
}

// add appends e as the most recently used entry of its tier.
func (idx *evictionIndex[K, V]) add(e *entry[K, V]) {
	idx.tiers[e.priority].pushBack(e)
	idx.occupied |= 1 << uint(e.priority)
	idx.len++
}

func (idx *evictionIndex[K, V]) remove(e *entry[K, V]) {
	t := &idx.tiers[e.priority]
	t.unlink(e)
	if t.len == 0 {
		idx.occupied &^= 1 << uint(e.priority)
	}
	idx.len--
}

func (idx *evictionIndex[K, V]) promote(e *entry[K, V]) {
	idx.tiers[e.priority].moveToBack(e)
}

// victim returns the next entry to evict: the least recently used entry of the
// first non-empty tier in eviction order. nil when the index is empty.
func (idx *evictionIndex[K, V]) victim() *entry[K, V] {
	if idx.occupied == 0 {
		return nil
	}
	var p int
	if idx.order == EvictHighestFirst {
		p = bits.Len64(idx.occupied) - 1
	} else {
		p = bits.TrailingZeros64(idx.occupied)
	}
	return idx.tiers[p].front()
}

// walk visits entries in eviction order until fn returns false.
func (idx *evictionIndex[K, V]) walk(fn func(*entry[K, V]) bool) {
	visit := func(p int) bool {
		t := &idx.tiers[p]
		for e := t.root.next; e != &t.root; e = e.next {
			if !fn(e) {
				return false
			}
		}
		return true
	}
	if idx.order == EvictHighestFirst {
		for p := len(idx.tiers) - 1; p >= 0; p-- {
			if idx.occupied&(1<<uint(p)) != 0 && !visit(p) {
				return
			}
		}
		return
	}
	for p := 0; p < len(idx.tiers); p++ {
		if idx.occupied&(1<<uint(p)) != 0 && !visit(p) {
			return
		}
	}
}

// tierLen reports how many entries are resident at priority p.
func (idx *evictionIndex[K, V]) tierLen(p int) int {
	if p < 0 || p >= len(idx.tiers) {
		return 0
	}
	return idx.tiers[p].len
}
