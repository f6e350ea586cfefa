package cache

import "time"

// GetBulk looks up keys under one lock acquisition. Each key is handled exactly
// like Get: stats, promotion, expiry and events apply per key.
func (c *PriorityCache[K, V]) GetBulk(keys []K) ([]V, []bool) {
	out := make([]V, len(keys))
	hit := make([]bool, len(keys))
	if c.closed.Load() {
		return out, hit
	}
	start := c.begin()

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return out, hit
	}
	now := c.now()
	for i, k := range keys {
		if e, ok := c.lookupLocked(k, now); ok {
			out[i] = e.value
			hit[i] = true
		}
	}
	c.mu.Unlock()

	if c.config.CloneValues {
		for i := range out {
			if hit[i] {
				out[i] = c.clone(keys[i], out[i])
			}
		}
	}
	c.observe("get_bulk", start)
	return out, hit
}

// PutBulk stores every item with the same priority and ttl under one lock
// acquisition. Arguments are validated once; capacity is enforced after each item.
func (c *PriorityCache[K, V]) PutBulk(items map[K]V, priority int, ttl time.Duration) error {
	if err := c.checkPut(priority, ttl); err != nil {
		return wrapError("put_bulk", err)
	}
	if c.closed.Load() {
		return wrapError("put_bulk", ErrCacheClosed)
	}
	start := c.begin()

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return wrapError("put_bulk", ErrCacheClosed)
	}
	now := c.now()
	for k, v := range items {
		c.putLocked(k, v, priority, ttl, now)
	}
	c.mu.Unlock()

	c.observe("put_bulk", start)
	return nil
}
