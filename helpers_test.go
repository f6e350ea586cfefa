package cache

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic expiry.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// testConfig disables the background sweeper and pins the clock.
func testConfig(capacity int, clk *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	cfg.CleanupInterval = 0
	if clk != nil {
		cfg.clock = clk.Now
	}
	return cfg
}

func newTestCache[K comparable, V any](t *testing.T, cfg Config) *PriorityCache[K, V] {
	t.Helper()
	c, err := NewWithConfig[K, V](cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// checkInvariants verifies map, index and heap agree with each other.
func checkInvariants[K comparable, V any](t *testing.T, c *PriorityCache[K, V]) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index.len != len(c.data) {
		t.Fatalf("index len %d != map len %d", c.index.len, len(c.data))
	}
	if len(c.expiry) != len(c.data) {
		t.Fatalf("expiry heap len %d != map len %d", len(c.expiry), len(c.data))
	}
	if len(c.data) > c.capacity {
		t.Fatalf("size %d exceeds capacity %d", len(c.data), c.capacity)
	}

	seen := 0
	for p := range c.index.tiers {
		tr := &c.index.tiers[p]
		n := 0
		for e := tr.root.next; e != &tr.root; e = e.next {
			if e.priority != p {
				t.Fatalf("entry %v with priority %d found in tier %d", e.key, e.priority, p)
			}
			if c.data[e.key] != e {
				t.Fatalf("entry %v in tier %d is not the mapped node", e.key, p)
			}
			if c.expiry[e.heapIndex] != e {
				t.Fatalf("entry %v has stale heap index %d", e.key, e.heapIndex)
			}
			n++
		}
		if n != tr.len {
			t.Fatalf("tier %d len %d, walked %d", p, tr.len, n)
		}
		occupied := c.index.occupied&(1<<uint(p)) != 0
		if occupied != (n > 0) {
			t.Fatalf("tier %d occupancy bit %v with %d entries", p, occupied, n)
		}
		seen += n
	}
	if seen != len(c.data) {
		t.Fatalf("tiers hold %d entries, map holds %d", seen, len(c.data))
	}
}

// eventRecorder is a Listener that records events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) OnHit(key string, value string) { r.add("hit:" + key) }
func (r *eventRecorder) OnMiss(key string)               { r.add("miss:" + key) }
func (r *eventRecorder) OnEvict(key string, value string) {
	r.add("evict:" + key)
}

func (r *eventRecorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *eventRecorder) count(ev string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == ev {
			n++
		}
	}
	return n
}
