package cache

import "time"

// SessionCacheConfig favours short-lived entries swept often.
func SessionCacheConfig() Config {
	return Config{
		Capacity:        25000,
		MinPriority:     DefaultMinPriority,
		MaxPriority:     DefaultMaxPriority,
		DefaultPriority: 5,
		DefaultTTL:      30 * time.Minute,
		CleanupInterval: 15 * time.Second,
	}
}

// APICacheConfig suits response caching with a tight TTL.
func APICacheConfig() Config {
	return Config{
		Capacity:        10000,
		MinPriority:     DefaultMinPriority,
		MaxPriority:     DefaultMaxPriority,
		DefaultPriority: DefaultMinPriority,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: 5 * time.Second,
	}
}

// HPCacheConfig is for large sharded caches; pair it with NewSharded.
func HPCacheConfig() Config {
	return Config{
		Capacity:        1000000,
		ShardCount:      64,
		MinPriority:     DefaultMinPriority,
		MaxPriority:     DefaultMaxPriority,
		DefaultPriority: DefaultMinPriority,
		DefaultTTL:      6 * time.Hour,
		CleanupInterval: time.Minute,
	}
}

// LowMemoryCacheConfig keeps few entries and sweeps aggressively.
func LowMemoryCacheConfig() Config {
	return Config{
		Capacity:        500,
		MinPriority:     DefaultMinPriority,
		MaxPriority:     DefaultMaxPriority,
		DefaultPriority: DefaultMinPriority,
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Second,
	}
}

// DebugCacheConfig keeps an operation trace and deep-copies values on read.
// V must implement Cloner or consist of exported, CBOR-encodable fields.
func DebugCacheConfig() Config {
	return Config{
		Capacity:        1000,
		MinPriority:     DefaultMinPriority,
		MaxPriority:     DefaultMaxPriority,
		DefaultPriority: DefaultMinPriority,
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: time.Second,
		CloneValues:     true,
		TraceCapacity:   10000,
	}
}
