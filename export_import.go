package cache

import "time"

// Item is a detached copy of a live entry with its absolute expiry.
type Item[K comparable, V any] struct {
	Key       K
	Val       V
	Priority  int
	ExpireAbs int64 // unix ns
}

// Export copies up to max live entries (max <= 0 means all) for which selectFn
// returns true, in eviction order. A nil selectFn selects everything. Recency and
// stats are untouched.
func (c *PriorityCache[K, V]) Export(selectFn func(K) bool, max int) []Item[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]Item[K, V], 0, len(c.data))
	c.index.walk(func(e *entry[K, V]) bool {
		if max > 0 && len(out) >= max {
			return false
		}
		if e.expired(now) || (selectFn != nil && !selectFn(e.key)) {
			return true
		}
		out = append(out, Item[K, V]{
			Key:       e.key,
			Val:       e.value,
			Priority:  e.priority,
			ExpireAbs: e.expireAt,
		})
		return true
	})
	return out
}

// Import inserts items in order, preserving their absolute expiry. Items already
// expired or with a priority outside the configured range are skipped. Capacity
// is enforced as for Put, so importing an Export (eviction order, victims first)
// into a smaller cache keeps the most valuable entries. The result counts the
// distinct imported keys still resident once the import finishes.
func (c *PriorityCache[K, V]) Import(items []Item[K, V]) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return 0
	}

	now := c.now()
	accepted := make(map[K]struct{}, len(items))
	for _, it := range items {
		ttl := time.Duration(it.ExpireAbs - now)
		if c.checkPut(it.Priority, ttl) != nil {
			continue
		}
		c.putLocked(it.Key, it.Val, it.Priority, ttl, now)
		accepted[it.Key] = struct{}{}
	}

	// Under the lock the only way an accepted key is present is through this import.
	n := 0
	for k := range accepted {
		if _, ok := c.data[k]; ok {
			n++
		}
	}
	return n
}
