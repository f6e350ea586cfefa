package cache

import (
	"fmt"
	"time"
)

// EntryInfo describes a resident entry without exposing its value.
type EntryInfo[K comparable] struct {
	Key          K
	Priority     int
	TTLRemaining time.Duration // <= 0 once expired
	Age          time.Duration
	IdleFor      time.Duration
	AccessCount  int64
	Expired      bool
}

// Entries lists resident entries in eviction order (next victim first).
// Expired entries that have not been swept yet are included and flagged.
func (c *PriorityCache[K, V]) Entries() []EntryInfo[K] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]EntryInfo[K], 0, len(c.data))
	c.index.walk(func(e *entry[K, V]) bool {
		out = append(out, c.describe(e, now))
		return true
	})
	return out
}

func (c *PriorityCache[K, V]) describe(e *entry[K, V], now int64) EntryInfo[K] {
	return EntryInfo[K]{
		Key:          e.key,
		Priority:     e.priority,
		TTLRemaining: time.Duration(e.expireAt - now),
		Age:          time.Duration(now - e.createdAt),
		IdleFor:      time.Duration(now - e.lastAccess),
		AccessCount:  e.accessCount,
		Expired:      e.expired(now),
	}
}

// EvictionExplanation says where a key stands relative to the next eviction.
type EvictionExplanation[K comparable] struct {
	Key      K
	Found    bool
	NextUp   bool // would be removed by the next eviction cycle
	Rank     int  // 0-based position in eviction order among live entries; -1 if expired or absent
	TierSize int  // entries sharing the key's priority tier
	Entry    EntryInfo[K]
	Reason   string
}

// ExplainEviction reports why key would or would not be evicted next. It walks the
// eviction order, so it costs O(n) and is meant for debugging.
func (c *PriorityCache[K, V]) ExplainEviction(key K) EvictionExplanation[K] {
	c.mu.Lock()
	defer c.mu.Unlock()

	ex := EvictionExplanation[K]{Key: key, Rank: -1}
	e, ok := c.data[key]
	if !ok {
		ex.Reason = "key not present"
		return ex
	}

	now := c.now()
	ex.Found = true
	ex.Entry = c.describe(e, now)
	ex.TierSize = c.index.tierLen(e.priority)

	if e.expired(now) {
		ex.NextUp = true
		ex.Reason = "ttl elapsed; dropped on next access, sweep or capacity check"
		return ex
	}

	rank := 0
	c.index.walk(func(cur *entry[K, V]) bool {
		if cur == e {
			return false
		}
		if !cur.expired(now) {
			rank++
		}
		return true
	})
	ex.Rank = rank
	ex.NextUp = rank == 0 && c.expiry.peekExpired(now) == nil

	switch {
	case ex.NextUp:
		ex.Reason = fmt.Sprintf("least recently used entry of the first non-empty tier (priority %d, %s)",
			e.priority, c.config.EvictionOrder)
	case rank == 0:
		ex.Reason = "next live victim, but expired entries are dropped before it"
	default:
		ex.Reason = fmt.Sprintf("%d live entries are evicted before it", rank)
	}
	return ex
}
