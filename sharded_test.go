package cache

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func newTestSharded[K comparable, V any](t *testing.T, cfg Config) *ShardedCache[K, V] {
	t.Helper()
	sc, err := NewSharded[K, V](cfg)
	if err != nil {
		t.Fatalf("NewSharded: %v", err)
	}
	t.Cleanup(func() { sc.Close() })
	return sc
}

func TestShardCountFor(t *testing.T) {
	tests := []struct {
		requested, capacity, want int
	}{
		{requested: 16, capacity: 1000, want: 16},
		{requested: 10, capacity: 1000, want: 16},
		{requested: 16, capacity: 5, want: 4},
		{requested: 8, capacity: 1, want: 1},
		{requested: 1000, capacity: 1 << 20, want: maxShardCount},
	}
	for _, tt := range tests {
		if got := shardCountFor(tt.requested, tt.capacity); got != tt.want {
			t.Errorf("shardCountFor(%d, %d) = %d, want %d", tt.requested, tt.capacity, got, tt.want)
		}
	}

	if n := shardCountFor(0, 1<<20); n < 1 || n&(n-1) != 0 {
		t.Errorf("Expected a power-of-two default, got %d", n)
	}
}

func TestShardedCapacitySplit(t *testing.T) {
	cfg := testConfig(103, nil)
	cfg.ShardCount = 8
	sc := newTestSharded[int, int](t, cfg)

	if sc.ShardCount() != 8 {
		t.Fatalf("Expected 8 shards, got %d", sc.ShardCount())
	}
	total := 0
	for _, s := range sc.shards {
		if s.Capacity() < 12 || s.Capacity() > 13 {
			t.Errorf("Uneven shard capacity %d", s.Capacity())
		}
		total += s.Capacity()
	}
	if total != 103 || sc.Capacity() != 103 {
		t.Errorf("Shard capacities sum to %d, want 103", total)
	}
}

func TestShardedBasicOperations(t *testing.T) {
	cfg := testConfig(1000, nil)
	cfg.ShardCount = 4
	sc := newTestSharded[string, string](t, cfg)

	for i := 0; i < 100; i++ {
		if err := sc.Put(fmt.Sprintf("key%d", i), fmt.Sprintf("v%d", i), 1+i%10, time.Minute); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if sc.Size() != 100 || len(sc.Keys()) != 100 {
		t.Fatalf("Expected 100 entries, got size=%d keys=%d", sc.Size(), len(sc.Keys()))
	}

	if v, ok := sc.Get("key42"); !ok || v != "v42" {
		t.Errorf("Expected v42, got %q found=%v", v, ok)
	}
	if _, ttl, ok := sc.GetWithTTL("key1"); !ok || ttl <= 0 || ttl > time.Minute {
		t.Errorf("Unexpected ttl %v found=%v", ttl, ok)
	}
	if !sc.Remove("key42") || sc.Contains("key42") {
		t.Error("Expected key42 removed")
	}
	if err := sc.Put("bad", "x", 99, time.Minute); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("Expected ErrInvalidPriority, got %v", err)
	}
	if err := sc.PutDefault("dflt", "x"); err != nil || !sc.Contains("dflt") {
		t.Errorf("PutDefault failed: %v", err)
	}

	sc.Clear()
	if sc.Size() != 0 {
		t.Errorf("Expected empty after Clear, got %d", sc.Size())
	}
}

func TestShardedStatsAggregate(t *testing.T) {
	cfg := testConfig(64, nil)
	cfg.ShardCount = 4
	sc := newTestSharded[int, int](t, cfg)

	for i := 0; i < 10; i++ {
		sc.Put(i, i, 1, time.Minute)
	}
	for i := 0; i < 20; i++ {
		sc.Get(i)
	}

	s := sc.Stats()
	if s.Hits != 10 || s.Misses != 10 || s.Insertions != 10 {
		t.Errorf("Unexpected aggregate stats %+v", s)
	}
	if s.Size != 10 || s.Capacity != 64 || s.Shards != 4 {
		t.Errorf("Unexpected size/capacity/shards %+v", s)
	}
	if s.HitRatio != 0.5 {
		t.Errorf("Expected hit ratio 0.5, got %f", s.HitRatio)
	}
}

func TestShardedNeverExceedsCapacity(t *testing.T) {
	cfg := testConfig(50, nil)
	cfg.ShardCount = 8
	sc := newTestSharded[int, int](t, cfg)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 1000; i++ {
				if err := sc.Put(w*1000+i, i, 1+i%10, time.Minute); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if sc.Size() > sc.Capacity() {
		t.Errorf("Size %d exceeds capacity %d", sc.Size(), sc.Capacity())
	}
	for _, s := range sc.shards {
		checkInvariants(t, s)
	}
}

func TestShardedListeners(t *testing.T) {
	cfg := testConfig(100, nil)
	cfg.ShardCount = 4
	sc := newTestSharded[string, int](t, cfg)

	var hits, misses atomic.Int32
	h := sc.RegisterListener(ListenerFuncs[string, int]{
		Hit:  func(string, int) { hits.Add(1) },
		Miss: func(string) { misses.Add(1) },
	})

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("k%d", i)
		sc.Put(key, i, 1, time.Minute)
		sc.Get(key)
		sc.Get(key + "-absent")
	}
	if hits.Load() != 20 || misses.Load() != 20 {
		t.Errorf("Expected 20 hits and 20 misses, got %d/%d", hits.Load(), misses.Load())
	}

	if !sc.UnregisterListener(h) {
		t.Fatal("Expected unregister to succeed")
	}
	if sc.UnregisterListener(h) {
		t.Error("Expected second unregister to fail")
	}
	sc.Get("k1")
	if hits.Load() != 20 {
		t.Errorf("Listener still called after unregister")
	}
}

func TestShardedSweep(t *testing.T) {
	clk := newFakeClock()
	cfg := testConfig(100, clk)
	cfg.ShardCount = 4
	sc := newTestSharded[int, int](t, cfg)

	for i := 0; i < 30; i++ {
		ttl := time.Minute
		if i%3 == 0 {
			ttl = time.Second
		}
		sc.Put(i, i, 1, ttl)
	}
	clk.Advance(time.Second)

	sc.TriggerCleanup()
	if sc.Size() != 20 {
		t.Errorf("Expected 20 survivors, got %d", sc.Size())
	}
	if s := sc.Stats(); s.Expirations != 10 {
		t.Errorf("Expected 10 expirations, got %d", s.Expirations)
	}
}

func TestShardedBackgroundSweeper(t *testing.T) {
	cfg := testConfig(100, nil)
	cfg.ShardCount = 2
	cfg.CleanupInterval = 10 * time.Millisecond
	sc := newTestSharded[string, string](t, cfg)

	for _, s := range sc.shards {
		if s.sweeper != nil {
			t.Fatal("Shards must not run their own sweeper")
		}
	}

	sc.Put("a", "1", 1, 15*time.Millisecond)
	sc.Put("b", "2", 1, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for sc.Size() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sc.Size() != 1 || !sc.Contains("b") {
		t.Errorf("Expected only b after sweeping, keys=%v", sc.Keys())
	}
}

func TestShardedClose(t *testing.T) {
	cfg := testConfig(100, nil)
	cfg.ShardCount = 4
	cfg.CleanupInterval = time.Millisecond
	sc, err := NewSharded[string, string](cfg)
	if err != nil {
		t.Fatal(err)
	}

	sc.Put("a", "1", 1, time.Minute)
	if err := sc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sc.Put("b", "2", 1, time.Minute); !errors.Is(err, ErrCacheClosed) {
		t.Errorf("Expected ErrCacheClosed, got %v", err)
	}
	if _, ok := sc.Get("a"); ok || sc.Size() != 0 {
		t.Error("Expected closed cache to be empty")
	}
}

func TestNewShardedRejectsBadConfig(t *testing.T) {
	if _, err := NewSharded[string, int](Config{Capacity: -3}); !errors.Is(err, ErrCapacityMisconfigured) {
		t.Errorf("Expected ErrCapacityMisconfigured, got %v", err)
	}
}

func TestShardedBulkOperations(t *testing.T) {
	cfg := testConfig(400, nil)
	cfg.ShardCount = 4
	sc := newTestSharded[string, int](t, cfg)

	items := make(map[string]int)
	keys := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		k := fmt.Sprintf("k%d", i)
		items[k] = i
		keys = append(keys, k)
	}
	if err := sc.PutBulk(items, 3, time.Minute); err != nil {
		t.Fatalf("PutBulk: %v", err)
	}
	if err := sc.PutBulk(items, 0, time.Minute); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("Expected ErrInvalidPriority, got %v", err)
	}

	keys = append(keys, "absent")
	vals, hits := sc.GetBulk(keys)
	for i := 0; i < 20; i++ {
		if !hits[i] || vals[i] != i {
			t.Errorf("position %d: got %d hit=%v", i, vals[i], hits[i])
		}
	}
	if hits[20] {
		t.Error("Expected miss for absent key")
	}
	if s := sc.Stats(); s.Hits != 20 || s.Misses != 1 || s.Insertions != 20 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestShardedExportImportAndEntries(t *testing.T) {
	clk := newFakeClock()
	cfg := testConfig(400, clk)
	cfg.ShardCount = 4
	src := newTestSharded[int, int](t, cfg)

	for i := 0; i < 30; i++ {
		src.Put(i, i*10, 1+i%10, time.Hour)
	}
	if n := len(src.Entries()); n != 30 {
		t.Errorf("Expected 30 entries, got %d", n)
	}
	if n := len(src.Export(nil, 7)); n != 7 {
		t.Errorf("Expected export limited to 7, got %d", n)
	}
	items := src.Export(func(k int) bool { return k%2 == 0 }, 0)
	if len(items) != 15 {
		t.Fatalf("Expected 15 even keys, got %d", len(items))
	}

	dst := newTestSharded[int, int](t, cfg)
	if n := dst.Import(items); n != 15 {
		t.Errorf("Expected 15 imported, got %d", n)
	}
	if v, ok := dst.Get(12); !ok || v != 120 {
		t.Errorf("Expected 120, got %d found=%v", v, ok)
	}
	if dst.Contains(13) {
		t.Error("Odd key must not be imported")
	}
}

func TestShardedTraceMerged(t *testing.T) {
	clk := newFakeClock()
	cfg := testConfig(100, clk)
	cfg.ShardCount = 4
	cfg.TraceCapacity = 3
	sc := newTestSharded[int, int](t, cfg)

	for i := 0; i < 10; i++ {
		sc.Put(i, i, 1, time.Hour)
		clk.Advance(time.Millisecond)
	}

	ops := sc.Trace()
	keys := make([]int, len(ops))
	for i, op := range ops {
		keys[i] = op.Key
	}
	if !slices.Equal(keys, []int{7, 8, 9}) {
		t.Errorf("Expected the 3 most recent puts in time order, got %v", keys)
	}
}

func TestShardedSnapshotRoundTrip(t *testing.T) {
	cfg := testConfig(64, nil)
	cfg.ShardCount = 4
	src := newTestSharded[string, string](t, cfg)
	for i := 0; i < 10; i++ {
		src.Put(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i), 1+i%10, time.Hour)
	}

	var buf bytes.Buffer
	if err := src.WriteSnapshot(&buf); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	// a single cache can read a sharded dump
	dst := newTestCache[string, string](t, testConfig(64, nil))
	n, err := dst.ReadSnapshot(&buf)
	if err != nil || n != 10 {
		t.Fatalf("ReadSnapshot: n=%d err=%v", n, err)
	}
	if v, ok := dst.Get("k4"); !ok || v != "v4" {
		t.Errorf("Expected v4, got %q found=%v", v, ok)
	}
}

func TestShardedReconfigure(t *testing.T) {
	cfg := testConfig(64, nil)
	cfg.ShardCount = 4
	sc := newTestSharded[int, int](t, cfg)
	for i := 0; i < 64; i++ {
		sc.Put(i, i, 1+i%10, time.Hour)
	}

	if err := sc.Reconfigure(Tunables{Capacity: 10, DefaultPriority: 6}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if sc.Capacity() != 10 || sc.Size() > 10 {
		t.Errorf("Expected capacity 10, got capacity=%d size=%d", sc.Capacity(), sc.Size())
	}
	total := 0
	for _, s := range sc.shards {
		total += s.Capacity()
		checkInvariants(t, s)
	}
	if total != 10 {
		t.Errorf("Shard capacities sum to %d, want 10", total)
	}
	if s := sc.Stats(); s.Capacity != 10 {
		t.Errorf("Expected aggregated capacity 10, got %d", s.Capacity)
	}

	sc.Clear()
	if err := sc.PutDefault(1000, 1); err != nil {
		t.Fatalf("PutDefault: %v", err)
	}
	if entries := sc.Entries(); len(entries) != 1 || entries[0].Priority != 6 {
		t.Errorf("Expected one entry at default priority 6, got %+v", entries)
	}

	if err := sc.Reconfigure(Tunables{Capacity: 3}); !errors.Is(err, ErrCapacityMisconfigured) {
		t.Errorf("Expected ErrCapacityMisconfigured below shard count, got %v", err)
	}
	if err := sc.Reconfigure(Tunables{DefaultTTL: -1}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
	if sc.Capacity() != 10 {
		t.Errorf("Rejected reconfigure changed capacity to %d", sc.Capacity())
	}
}

func TestNewShardedRejectsUncloneable(t *testing.T) {
	cfg := testConfig(16, nil)
	cfg.ShardCount = 4
	cfg.CloneValues = true
	if _, err := NewSharded[string, any](cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}
