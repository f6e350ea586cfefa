package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// Fibonacci hashing multipliers (2^n / golden ratio).
	gratio32 = 0x9E3779B9
	gratio64 = 0x9E3779B97F4A7C15
)

// hasher maps keys to a stable 64-bit hash for shard selection.
// Strings use xxHash, integers use multiplicative hashing,
// and other types fall back to hashing their fmt representation.
type hasher[K comparable] struct{}

func newHasher[K comparable]() hasher[K] {
	return hasher[K]{}
}

func (h hasher[K]) hash(key K) uint64 {
	switch k := any(key).(type) {
	case string:
		return xxhash.Sum64String(k)
	case int:
		return h.mix(uint64(k), gratio64)
	case int32:
		return h.mix(uint64(k), gratio32)
	case int64:
		return h.mix(uint64(k), gratio64)
	case uint:
		return h.mix(uint64(k), gratio64)
	case uint32:
		return h.mix(uint64(k), gratio32)
	case uint64:
		return h.mix(k, gratio64)
	default:
		return xxhash.Sum64String(fmt.Sprintf("%v", k))
	}
}

// mix multiplies and folds the high half down so the low bits used by the shard
// mask depend on every input bit.
func (h hasher[K]) mix(value, ratio uint64) uint64 {
	x := value * ratio
	return x ^ (x >> 32)
}
