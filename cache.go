package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Default priority range; lower numbers are evicted first under EvictLowestFirst.
	DefaultMinPriority = 1
	DefaultMaxPriority = 10

	// Defaults used by DefaultConfig().
	defaultCapacity        = 10000
	defaultTTL             = 30 * time.Minute
	defaultCleanupInterval = time.Second
)

// Cache is the public API shared by PriorityCache and ShardedCache.
type Cache[K comparable, V any] interface {
	Put(key K, value V, priority int, ttl time.Duration) error
	Get(key K) (V, bool)
	Remove(key K) bool
	Size() int
	Capacity() int
	Stats() Stats
	RegisterListener(l Listener[K, V]) ListenerHandle
	UnregisterListener(h ListenerHandle) bool
	Close() error
}

// Config groups capacity, priority range, TTL, sweeper and telemetry options.
type Config struct {
	Name            string        // label for logs and metrics
	Capacity        int           // hard entry bound, >= 1
	MinPriority     int           // lowest accepted priority (0..63)
	MaxPriority     int           // highest accepted priority (MinPriority..63)
	DefaultPriority int           // used by PutDefault; 0 => MinPriority
	DefaultTTL      time.Duration // used by PutDefault; 0 => 30m
	EvictionOrder   EvictionOrder
	CleanupInterval time.Duration // sweeper period; 0 disables the background sweeper
	ShardCount      int           // ShardedCache only; 0 => derived from CPUs
	CloneValues     bool          // Get returns a deep copy; V must implement Cloner or survive a CBOR round trip
	TraceCapacity   int           // number of operations kept by Trace(); 0 disables
	Logger          *slog.Logger  // nil => slog.Default()
	Metrics         *Metrics      // optional latency histograms

	clock func() time.Time // tests only
}

// DefaultConfig returns sane defaults for a general-purpose cache.
func DefaultConfig() Config {
	return Config{
		Capacity:        defaultCapacity,
		MinPriority:     DefaultMinPriority,
		MaxPriority:     DefaultMaxPriority,
		DefaultPriority: DefaultMinPriority,
		DefaultTTL:      defaultTTL,
		EvictionOrder:   EvictLowestFirst,
		CleanupInterval: defaultCleanupInterval,
	}
}

// withDefaults fills zero-valued fields that have a sensible default.
func (c Config) withDefaults() Config {
	if c.MinPriority == 0 && c.MaxPriority == 0 {
		c.MinPriority, c.MaxPriority = DefaultMinPriority, DefaultMaxPriority
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = c.MinPriority
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = defaultTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	return c
}

// Validate reports whether the configuration can build a cache.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.Capacity < 1:
		return fmt.Errorf("%w: got %d", ErrCapacityMisconfigured, c.Capacity)
	case c.MinPriority < 0 || c.MaxPriority >= maxTierCount || c.MinPriority > c.MaxPriority:
		return fmt.Errorf("%w: priority range [%d, %d] must lie within [0, %d]",
			ErrInvalidConfig, c.MinPriority, c.MaxPriority, maxTierCount-1)
	case c.DefaultPriority < c.MinPriority || c.DefaultPriority > c.MaxPriority:
		return fmt.Errorf("%w: default priority %d outside [%d, %d]",
			ErrInvalidConfig, c.DefaultPriority, c.MinPriority, c.MaxPriority)
	case c.DefaultTTL < 0:
		return fmt.Errorf("%w: negative default ttl %v", ErrInvalidConfig, c.DefaultTTL)
	case c.CleanupInterval < 0:
		return fmt.Errorf("%w: negative cleanup interval %v", ErrInvalidConfig, c.CleanupInterval)
	case c.EvictionOrder != EvictLowestFirst && c.EvictionOrder != EvictHighestFirst:
		return fmt.Errorf("%w: unknown eviction order %d", ErrInvalidConfig, c.EvictionOrder)
	case c.TraceCapacity < 0:
		return fmt.Errorf("%w: negative trace capacity %d", ErrInvalidConfig, c.TraceCapacity)
	}
	return nil
}

// PriorityCache is a bounded cache evicting by TTL, then priority tier, then recency.
// A single mutex guards the key map, the eviction index and the expiry heap; Get
// takes it as well because a hit reorders recency. Only the counters are lock-free.
type PriorityCache[K comparable, V any] struct {
	mu        sync.Mutex
	data      map[K]*entry[K, V]
	index     *evictionIndex[K, V]
	expiry    expiryHeap[K, V]
	listeners listenerSet[K, V]
	trace     *traceRing[K]

	capacity int
	config   Config
	logger   *slog.Logger
	clock    func() time.Time

	stats     counters
	nodePool  sync.Pool // *entry[K, V] reuse to lower GC pressure
	sweeper   *sweeper
	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a cache holding at most capacity entries with DefaultConfig() otherwise.
func New[K comparable, V any](capacity int) (*PriorityCache[K, V], error) {
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	return NewWithConfig[K, V](cfg)
}

// NewWithConfig validates config, builds the cache and starts the sweeper if configured.
func NewWithConfig[K comparable, V any](config Config) (*PriorityCache[K, V], error) {
	if err := config.Validate(); err != nil {
		return nil, newCacheError("new", config.Name, err)
	}
	config = config.withDefaults()
	if config.CloneValues {
		if err := checkCloneable[V](); err != nil {
			return nil, newCacheError("new", config.Name, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
		}
	}

	logger := config.Logger
	if config.Name != "" {
		logger = logger.With("cache", config.Name)
	}

	c := &PriorityCache[K, V]{
		data:     make(map[K]*entry[K, V], min(config.Capacity+1, 1<<16)),
		index:    newEvictionIndex[K, V](config.MaxPriority, config.EvictionOrder),
		trace:    newTraceRing[K](config.TraceCapacity),
		capacity: config.Capacity,
		config:   config,
		logger:   logger,
		clock:    config.clock,
		nodePool: sync.Pool{
			New: func() any { return &entry[K, V]{heapIndex: noHeapIndex} },
		},
	}
	c.listeners.logger = logger

	if config.CleanupInterval > 0 {
		c.sweeper = startSweeper(config.CleanupInterval, c.sweep)
	}
	return c, nil
}

func (c *PriorityCache[K, V]) now() int64 {
	return c.clock().UnixNano()
}

// begin returns the start time for latency metrics, or the zero time when disabled.
func (c *PriorityCache[K, V]) begin() time.Time {
	if c.config.Metrics == nil {
		return time.Time{}
	}
	return time.Now()
}

func (c *PriorityCache[K, V]) observe(op string, start time.Time) {
	if c.config.Metrics == nil {
		return
	}
	c.config.Metrics.observe(c.config.Name, op, start)
}

func (c *PriorityCache[K, V]) checkPut(priority int, ttl time.Duration) error {
	if priority < c.config.MinPriority || priority > c.config.MaxPriority {
		return fmt.Errorf("%w: %d outside [%d, %d]",
			ErrInvalidPriority, priority, c.config.MinPriority, c.config.MaxPriority)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidTTL, ttl)
	}
	return nil
}

// Get returns the value for key if it is present and not expired.
// A hit promotes the entry to most recently used within its tier. An expired entry
// is removed in the same critical section and reported as an evict then a miss.
func (c *PriorityCache[K, V]) Get(key K) (V, bool) {
	v, _, ok := c.get(key, "get")
	return v, ok
}

// GetWithTTL is Get that also reports the remaining time to live.
func (c *PriorityCache[K, V]) GetWithTTL(key K) (V, time.Duration, bool) {
	return c.get(key, "get_with_ttl")
}

func (c *PriorityCache[K, V]) get(key K, op string) (V, time.Duration, bool) {
	var zero V
	if c.closed.Load() {
		return zero, 0, false
	}
	start := c.begin()

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return zero, 0, false
	}
	now := c.now()
	e, ok := c.lookupLocked(key, now)
	if !ok {
		c.mu.Unlock()
		c.observe(op, start)
		return zero, 0, false
	}
	value, remaining := e.value, time.Duration(e.expireAt-now)
	c.mu.Unlock()

	if c.config.CloneValues {
		value = c.clone(key, value)
	}
	c.observe(op, start)
	return value, remaining, true
}

// lookupLocked applies expiry, stats, recency and events for a read of key.
func (c *PriorityCache[K, V]) lookupLocked(key K, now int64) (*entry[K, V], bool) {
	var zero V

	e, ok := c.data[key]
	if ok && e.expired(now) {
		c.dropLocked(e, OpExpire, now)
		ok = false
	}
	if !ok {
		c.stats.misses.Add(1)
		c.trace.record(Operation[K]{Kind: OpGet, Key: key, At: time.Unix(0, now)})
		c.listeners.emit(eventMiss, key, zero)
		return nil, false
	}

	c.index.promote(e)
	e.lastAccess = now
	e.accessCount++

	c.stats.hits.Add(1)
	c.trace.record(Operation[K]{Kind: OpGet, Key: key, Priority: e.priority, Hit: true, At: time.Unix(0, now)})
	c.listeners.emit(eventHit, key, e.value)
	return e, true
}

func (c *PriorityCache[K, V]) clone(key K, v V) V {
	out, err := cloneValue(v)
	if err != nil {
		c.logger.Warn("cache value clone failed, returning shared value",
			"key", fmt.Sprint(key), "error", err)
	}
	return out
}

// Put stores value under key with the given priority and time to live.
// Priorities outside [MinPriority, MaxPriority] fail with ErrInvalidPriority and
// non-positive TTLs with ErrInvalidTTL; nothing is clamped. Re-putting a key
// creates a fresh entry (new expiry, tail of its new tier). When the cache then
// holds more than Capacity entries, every expired entry is dropped first and then
// the next victim of the eviction order, until the bound holds again. The entry
// just stored can be that victim, e.g. in a capacity-1 cache whose resident entry
// outranks it; Put still returns nil.
func (c *PriorityCache[K, V]) Put(key K, value V, priority int, ttl time.Duration) error {
	if err := c.checkPut(priority, ttl); err != nil {
		return wrapError("put", err)
	}
	if c.closed.Load() {
		return wrapError("put", ErrCacheClosed)
	}
	start := c.begin()

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return wrapError("put", ErrCacheClosed)
	}
	c.putLocked(key, value, priority, ttl, c.now())
	c.mu.Unlock()

	c.observe("put", start)
	return nil
}

// PutDefault stores value with the current default priority and TTL.
func (c *PriorityCache[K, V]) PutDefault(key K, value V) error {
	c.mu.Lock()
	priority, ttl := c.config.DefaultPriority, c.config.DefaultTTL
	c.mu.Unlock()
	return c.Put(key, value, priority, ttl)
}

func (c *PriorityCache[K, V]) putLocked(key K, value V, priority int, ttl time.Duration, now int64) {
	if old, ok := c.data[key]; ok {
		c.unlinkLocked(old)
		c.recycle(old)
	}

	e := c.nodePool.Get().(*entry[K, V])
	e.key = key
	e.value = value
	e.priority = priority
	e.expireAt = now + ttl.Nanoseconds()
	e.createdAt = now
	e.lastAccess = now
	e.accessCount = 0

	c.data[key] = e
	c.index.add(e)
	c.expiry.add(e)

	c.stats.insertions.Add(1)
	c.trace.record(Operation[K]{Kind: OpPut, Key: key, Priority: priority, TTL: ttl, At: time.Unix(0, now)})

	c.enforceCapacityLocked(now)
}

// enforceCapacityLocked restores size <= capacity: expired entries go first, then
// victims in eviction order. The index is never empty while size > capacity >= 1.
func (c *PriorityCache[K, V]) enforceCapacityLocked(now int64) {
	if len(c.data) <= c.capacity {
		return
	}
	for e := c.expiry.peekExpired(now); e != nil; e = c.expiry.peekExpired(now) {
		c.dropLocked(e, OpExpire, now)
	}
	for len(c.data) > c.capacity {
		victim := c.index.victim()
		if victim == nil {
			return
		}
		c.dropLocked(victim, OpEvict, now)
	}
}

// unlinkLocked detaches e from the map, the index and the expiry heap.
func (c *PriorityCache[K, V]) unlinkLocked(e *entry[K, V]) {
	delete(c.data, e.key)
	c.index.remove(e)
	c.expiry.remove(e)
}

// dropLocked is the single removal path for expiry and capacity eviction: it
// unlinks e, counts it, and reports it to listeners as an eviction.
func (c *PriorityCache[K, V]) dropLocked(e *entry[K, V], kind OpKind, now int64) {
	key, value, priority := e.key, e.value, e.priority
	c.unlinkLocked(e)
	c.recycle(e)

	if kind == OpExpire {
		c.stats.expirations.Add(1)
	} else {
		c.stats.evictions.Add(1)
	}
	c.trace.record(Operation[K]{Kind: kind, Key: key, Priority: priority, At: time.Unix(0, now)})
	c.listeners.emit(eventEvict, key, value)
}

func (c *PriorityCache[K, V]) recycle(e *entry[K, V]) {
	e.reset()
	c.nodePool.Put(e)
}

// Remove deletes key if present. It touches neither stats nor listeners.
func (c *PriorityCache[K, V]) Remove(key K) bool {
	if c.closed.Load() {
		return false
	}
	start := c.begin()

	c.mu.Lock()
	e, ok := c.data[key]
	if ok {
		c.unlinkLocked(e)
		c.recycle(e)
		c.trace.record(Operation[K]{Kind: OpRemove, Key: key, At: time.Unix(0, c.now())})
	}
	c.mu.Unlock()

	c.observe("remove", start)
	return ok
}

// Contains reports whether key is live without promoting it or counting a hit/miss.
func (c *PriorityCache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	return ok && !e.expired(c.now())
}

// Keys returns a point-in-time snapshot of non-expired keys.
func (c *PriorityCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]K, 0, len(c.data))
	for k, e := range c.data {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Size returns the number of resident entries, including expired ones not yet swept.
func (c *PriorityCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Capacity returns the current entry bound.
func (c *PriorityCache[K, V]) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Stats returns counters plus current size and capacity.
func (c *PriorityCache[K, V]) Stats() Stats {
	s := c.stats.snapshot()
	c.mu.Lock()
	s.Size = int64(len(c.data))
	s.Capacity = int64(c.capacity)
	c.mu.Unlock()
	s.Shards = 1
	return s
}

// Tunables are the settings that may change on a live cache. Zero fields are
// left as they are.
type Tunables struct {
	Capacity        int
	DefaultPriority int
	DefaultTTL      time.Duration
}

// Reconfigure applies t atomically. Shrinking the capacity drops expired entries
// and then evicts in the usual order until the new bound holds; those removals
// are counted and reported like any other.
func (c *PriorityCache[K, V]) Reconfigure(t Tunables) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return wrapError("reconfigure", ErrCacheClosed)
	}
	if err := c.checkTunables(t); err != nil {
		return newCacheError("reconfigure", c.config.Name, err)
	}

	if t.DefaultPriority != 0 {
		c.config.DefaultPriority = t.DefaultPriority
	}
	if t.DefaultTTL != 0 {
		c.config.DefaultTTL = t.DefaultTTL
	}
	if t.Capacity != 0 {
		c.capacity = t.Capacity
		c.config.Capacity = t.Capacity
		c.enforceCapacityLocked(c.now())
	}
	c.logger.Info("cache reconfigured",
		"capacity", c.capacity,
		"default_priority", c.config.DefaultPriority,
		"default_ttl", c.config.DefaultTTL,
	)
	return nil
}

func (c *PriorityCache[K, V]) checkTunables(t Tunables) error {
	switch {
	case t.Capacity < 0:
		return fmt.Errorf("%w: got %d", ErrCapacityMisconfigured, t.Capacity)
	case t.DefaultPriority != 0 &&
		(t.DefaultPriority < c.config.MinPriority || t.DefaultPriority > c.config.MaxPriority):
		return fmt.Errorf("%w: default priority %d outside [%d, %d]",
			ErrInvalidConfig, t.DefaultPriority, c.config.MinPriority, c.config.MaxPriority)
	case t.DefaultTTL < 0:
		return fmt.Errorf("%w: negative default ttl %v", ErrInvalidConfig, t.DefaultTTL)
	}
	return nil
}

// RegisterListener adds l to the observers and returns a handle for removal.
func (c *PriorityCache[K, V]) RegisterListener(l Listener[K, V]) ListenerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeners.add(l)
}

// UnregisterListener removes the listener registered under h.
func (c *PriorityCache[K, V]) UnregisterListener(h ListenerHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeners.remove(h)
}

// Trace returns the most recent operations, oldest first. Empty unless
// Config.TraceCapacity > 0.
func (c *PriorityCache[K, V]) Trace() []Operation[K] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trace.snapshot()
}

// Clear drops every entry without emitting events. Counters are kept.
func (c *PriorityCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *PriorityCache[K, V]) clearLocked() {
	for _, e := range c.data {
		c.recycle(e)
	}
	clear(c.data)
	c.index.reset()
	clear(c.expiry)
	c.expiry = c.expiry[:0]
}

// Sweep removes every expired entry now and returns how many were dropped.
// Each removal is reported to listeners as an eviction.
func (c *PriorityCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return 0
	}

	now := c.now()
	n := 0
	for e := c.expiry.peekExpired(now); e != nil; e = c.expiry.peekExpired(now) {
		c.dropLocked(e, OpExpire, now)
		n++
	}
	return n
}

func (c *PriorityCache[K, V]) sweep() {
	start := c.begin()
	if n := c.Sweep(); n > 0 {
		c.logger.Debug("swept expired entries", "count", n)
	}
	c.observe("sweep", start)
}

// TriggerCleanup requests a sweep (inline if the sweeper is disabled; coalesced otherwise).
func (c *PriorityCache[K, V]) TriggerCleanup() {
	if c.closed.Load() {
		return
	}
	if c.sweeper == nil {
		c.sweep()
		return
	}
	c.sweeper.trigger()
}

// Close stops the sweeper, drops all entries and rejects further writes. Idempotent.
func (c *PriorityCache[K, V]) Close() error {
	c.closeOnce.Do(func() {
		if c.sweeper != nil {
			c.sweeper.stop()
		}
		c.mu.Lock()
		c.closed.Store(true)
		c.clearLocked()
		c.trace.reset()
		c.mu.Unlock()
		c.logger.Debug("cache closed")
	})
	return nil
}

var _ Cache[string, int] = (*PriorityCache[string, int])(nil)
