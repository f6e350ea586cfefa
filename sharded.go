package cache

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/tiercache/internal/mathutil"
)

const (
	// Sharding: cap shard count, scale by CPUs, and round to power-of-two for mask-based modulo.
	maxShardCount   = 256
	shardMultiplier = 4
)

// ShardedCache spreads keys over independent PriorityCache shards to cut lock
// contention. Each shard enforces its own slice of the capacity, so priority and
// recency ordering hold per shard rather than globally. Listings (Entries,
// Export, Trace) concatenate or merge the per-shard views.
type ShardedCache[K comparable, V any] struct {
	shards    []*PriorityCache[K, V]
	shardMask uint64
	hasher    hasher[K]
	capacity  atomic.Int64
	name      string
	traceCap  int
	logger    *slog.Logger

	reconfigMu sync.Mutex

	handleMu  sync.Mutex
	handles   map[ListenerHandle][]ListenerHandle // sharded handle -> per-shard handles
	nextID    ListenerHandle
	sweeper   *sweeper
	closeOnce sync.Once
	closed    atomic.Bool
}

// shardCountFor picks a power-of-two shard count that leaves every shard at least
// one slot of capacity.
func shardCountFor(requested, capacity int) int {
	n := requested
	if n <= 0 {
		// Over-provision shards to reduce lock contention.
		n = runtime.NumCPU() * shardMultiplier
	}
	if n > maxShardCount {
		n = maxShardCount
	}
	n = mathutil.NextPowerOf2(n)

	if limit := mathutil.PrevPowerOf2(capacity); n > limit {
		n = limit
	}
	return n
}

// NewSharded builds a sharded cache whose shard capacities sum to config.Capacity.
func NewSharded[K comparable, V any](config Config) (*ShardedCache[K, V], error) {
	if err := config.Validate(); err != nil {
		return nil, newCacheError("new", config.Name, err)
	}
	config = config.withDefaults()

	logger := config.Logger
	if config.Name != "" {
		logger = logger.With("cache", config.Name)
	}

	n := shardCountFor(config.ShardCount, config.Capacity)
	sc := &ShardedCache[K, V]{
		shards:    make([]*PriorityCache[K, V], n),
		shardMask: uint64(n - 1),
		hasher:    newHasher[K](),
		name:      config.Name,
		traceCap:  config.TraceCapacity,
		logger:    logger,
		handles:   make(map[ListenerHandle][]ListenerHandle),
	}
	sc.capacity.Store(int64(config.Capacity))

	for i := range sc.shards {
		shardCfg := config
		shardCfg.Capacity = shardCapacity(config.Capacity, n, i)
		// One sweeper drives every shard.
		shardCfg.CleanupInterval = 0
		shard, err := NewWithConfig[K, V](shardCfg)
		if err != nil {
			for _, built := range sc.shards[:i] {
				built.Close()
			}
			return nil, err
		}
		sc.shards[i] = shard
	}

	if config.CleanupInterval > 0 {
		sc.sweeper = startSweeper(config.CleanupInterval, func() { sc.Sweep() })
	}
	return sc, nil
}

// shardCapacity is shard i's slice of total; the slices sum to total.
func shardCapacity(total, shards, i int) int {
	c := total / shards
	if i < total%shards {
		c++
	}
	return c
}

func (sc *ShardedCache[K, V]) shardIndex(key K) int {
	return int(sc.hasher.hash(key) & sc.shardMask)
}

func (sc *ShardedCache[K, V]) shardFor(key K) *PriorityCache[K, V] {
	return sc.shards[sc.shardIndex(key)]
}

func (sc *ShardedCache[K, V]) Put(key K, value V, priority int, ttl time.Duration) error {
	return sc.shardFor(key).Put(key, value, priority, ttl)
}

func (sc *ShardedCache[K, V]) PutDefault(key K, value V) error {
	return sc.shardFor(key).PutDefault(key, value)
}

func (sc *ShardedCache[K, V]) Get(key K) (V, bool) {
	return sc.shardFor(key).Get(key)
}

func (sc *ShardedCache[K, V]) GetWithTTL(key K) (V, time.Duration, bool) {
	return sc.shardFor(key).GetWithTTL(key)
}

func (sc *ShardedCache[K, V]) Remove(key K) bool {
	return sc.shardFor(key).Remove(key)
}

func (sc *ShardedCache[K, V]) Contains(key K) bool {
	return sc.shardFor(key).Contains(key)
}

// Keys returns non-expired keys; shards are snapshotted one at a time.
func (sc *ShardedCache[K, V]) Keys() []K {
	var keys []K
	for _, s := range sc.shards {
		keys = append(keys, s.Keys()...)
	}
	return keys
}

func (sc *ShardedCache[K, V]) Size() int {
	total := 0
	for _, s := range sc.shards {
		total += s.Size()
	}
	return total
}

func (sc *ShardedCache[K, V]) Capacity() int {
	return int(sc.capacity.Load())
}

// ShardCount reports how many shards back the cache.
func (sc *ShardedCache[K, V]) ShardCount() int {
	return len(sc.shards)
}

// Stats aggregates shard counters and computes the overall hit ratio.
func (sc *ShardedCache[K, V]) Stats() Stats {
	var total Stats
	for _, s := range sc.shards {
		total.merge(s.Stats())
	}
	total.Shards = len(sc.shards)
	return total
}

// Reconfigure applies t to every shard, splitting a new capacity the same way
// NewSharded does. Shards are updated one after another, so a concurrent reader
// may briefly see a mix of old and new settings.
func (sc *ShardedCache[K, V]) Reconfigure(t Tunables) error {
	sc.reconfigMu.Lock()
	defer sc.reconfigMu.Unlock()

	if sc.closed.Load() {
		return wrapError("reconfigure", ErrCacheClosed)
	}
	if t.Capacity != 0 && t.Capacity < len(sc.shards) {
		return newCacheError("reconfigure", sc.name, fmt.Errorf("%w: %d is below the shard count %d",
			ErrCapacityMisconfigured, t.Capacity, len(sc.shards)))
	}
	// Validate against one shard first so a bad value changes nothing.
	if err := sc.shards[0].checkTunables(t); err != nil {
		return newCacheError("reconfigure", sc.name, err)
	}

	for i, s := range sc.shards {
		st := t
		if t.Capacity != 0 {
			st.Capacity = shardCapacity(t.Capacity, len(sc.shards), i)
		}
		if err := s.Reconfigure(st); err != nil {
			return err
		}
	}
	if t.Capacity != 0 {
		sc.capacity.Store(int64(t.Capacity))
	}
	return nil
}

// GetBulk looks up keys shard by shard, one lock acquisition per touched shard.
// Results line up with keys.
func (sc *ShardedCache[K, V]) GetBulk(keys []K) ([]V, []bool) {
	out := make([]V, len(keys))
	hit := make([]bool, len(keys))

	groups := make(map[int][]int) // shard -> positions in keys
	for i, k := range keys {
		idx := sc.shardIndex(k)
		groups[idx] = append(groups[idx], i)
	}
	for idx, positions := range groups {
		sub := make([]K, len(positions))
		for j, pos := range positions {
			sub[j] = keys[pos]
		}
		vals, hits := sc.shards[idx].GetBulk(sub)
		for j, pos := range positions {
			out[pos], hit[pos] = vals[j], hits[j]
		}
	}
	return out, hit
}

// PutBulk validates once and then stores each shard's share under that shard's lock.
func (sc *ShardedCache[K, V]) PutBulk(items map[K]V, priority int, ttl time.Duration) error {
	if err := sc.shards[0].checkPut(priority, ttl); err != nil {
		return wrapError("put_bulk", err)
	}

	groups := make(map[int]map[K]V)
	for k, v := range items {
		idx := sc.shardIndex(k)
		if groups[idx] == nil {
			groups[idx] = make(map[K]V)
		}
		groups[idx][k] = v
	}
	for idx, group := range groups {
		if err := sc.shards[idx].PutBulk(group, priority, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Export collects up to max live entries (max <= 0 means all) shard after shard.
// Items are in eviction order within each shard's run.
func (sc *ShardedCache[K, V]) Export(selectFn func(K) bool, max int) []Item[K, V] {
	var out []Item[K, V]
	for _, s := range sc.shards {
		remaining := 0
		if max > 0 {
			remaining = max - len(out)
			if remaining <= 0 {
				break
			}
		}
		out = append(out, s.Export(selectFn, remaining)...)
	}
	return out
}

// Import routes items to their shards, keeping their relative order, and returns
// how many imported keys are resident afterwards.
func (sc *ShardedCache[K, V]) Import(items []Item[K, V]) int {
	groups := make(map[int][]Item[K, V])
	for _, it := range items {
		idx := sc.shardIndex(it.Key)
		groups[idx] = append(groups[idx], it)
	}
	n := 0
	for idx, group := range groups {
		n += sc.shards[idx].Import(group)
	}
	return n
}

// Entries lists resident entries shard after shard, each run in that shard's eviction order.
func (sc *ShardedCache[K, V]) Entries() []EntryInfo[K] {
	var out []EntryInfo[K]
	for _, s := range sc.shards {
		out = append(out, s.Entries()...)
	}
	return out
}

// Trace merges the shards' operation logs by time, oldest first, keeping at
// most Config.TraceCapacity records.
func (sc *ShardedCache[K, V]) Trace() []Operation[K] {
	var ops []Operation[K]
	for _, s := range sc.shards {
		ops = append(ops, s.Trace()...)
	}
	slices.SortStableFunc(ops, func(a, b Operation[K]) int {
		return a.At.Compare(b.At)
	})
	if len(ops) > sc.traceCap {
		ops = ops[len(ops)-sc.traceCap:]
	}
	return ops
}

// WriteSnapshot encodes every shard's live entries to w in one envelope.
func (sc *ShardedCache[K, V]) WriteSnapshot(w io.Writer) error {
	items := sc.Export(nil, 0)
	if err := encodeSnapshot(w, sc.name, items); err != nil {
		return err
	}
	sc.logger.Debug("wrote cache snapshot", "entries", len(items))
	return nil
}

// ReadSnapshot imports a dump written by either cache flavour.
func (sc *ShardedCache[K, V]) ReadSnapshot(r io.Reader) (int, error) {
	items, err := decodeSnapshot[K, V](r, sc.name)
	if err != nil {
		return 0, err
	}
	if sc.closed.Load() {
		return 0, newCacheError("restore", sc.name, ErrCacheClosed)
	}
	n := sc.Import(items)
	sc.logger.Debug("restored cache snapshot", "entries", n, "skipped", len(items)-n)
	return n, nil
}

// RegisterListener registers l on every shard under a single handle.
func (sc *ShardedCache[K, V]) RegisterListener(l Listener[K, V]) ListenerHandle {
	sc.handleMu.Lock()
	defer sc.handleMu.Unlock()

	per := make([]ListenerHandle, len(sc.shards))
	for i, s := range sc.shards {
		per[i] = s.RegisterListener(l)
	}
	sc.nextID++
	sc.handles[sc.nextID] = per
	return sc.nextID
}

func (sc *ShardedCache[K, V]) UnregisterListener(h ListenerHandle) bool {
	sc.handleMu.Lock()
	defer sc.handleMu.Unlock()

	per, ok := sc.handles[h]
	if !ok {
		return false
	}
	delete(sc.handles, h)
	for i, s := range sc.shards {
		s.UnregisterListener(per[i])
	}
	return true
}

func (sc *ShardedCache[K, V]) Clear() {
	for _, s := range sc.shards {
		s.Clear()
	}
}

// Sweep drops expired entries in every shard and returns the total removed.
func (sc *ShardedCache[K, V]) Sweep() int {
	n := 0
	for _, s := range sc.shards {
		n += s.Sweep()
	}
	if n > 0 {
		sc.logger.Debug("swept expired entries", "count", n, "shards", len(sc.shards))
	}
	return n
}

func (sc *ShardedCache[K, V]) TriggerCleanup() {
	if sc.closed.Load() {
		return
	}
	if sc.sweeper == nil {
		sc.Sweep()
		return
	}
	sc.sweeper.trigger()
}

// Close stops the sweeper and closes all shards concurrently. Idempotent.
func (sc *ShardedCache[K, V]) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		if sc.sweeper != nil {
			sc.sweeper.stop()
		}
		var g errgroup.Group
		for _, s := range sc.shards {
			g.Go(s.Close)
		}
		err = g.Wait()
	})
	return err
}

var _ Cache[string, int] = (*ShardedCache[string, int])(nil)
