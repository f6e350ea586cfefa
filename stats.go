package cache

import "sync/atomic"

// Stats is a point-in-time view of cache telemetry.
// Counters are monotonic for the lifetime of the cache instance.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64 // capacity evictions
	Expirations int64 // entries dropped because their TTL elapsed
	Insertions  int64
	Size        int64
	Capacity    int64
	HitRatio    float64
	Shards      int
}

// counters are the only cache state mutated outside the cache lock.
type counters struct {
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	insertions  atomic.Int64
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Insertions:  c.insertions.Load(),
	}
	s.HitRatio = hitRatio(s.Hits, s.Misses)
	return s
}

func hitRatio(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// merge folds o into s and recomputes the hit ratio.
func (s *Stats) merge(o Stats) {
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Evictions += o.Evictions
	s.Expirations += o.Expirations
	s.Insertions += o.Insertions
	s.Size += o.Size
	s.Capacity += o.Capacity
	s.HitRatio = hitRatio(s.Hits, s.Misses)
}
