package cache

import (
	"fmt"
	"log/slog"
)

// Listener observes cache activity. Callbacks run synchronously while the cache
// lock is held, in the order operations are serialized. A callback must not call
// back into the same cache: the lock is not reentrant and the call deadlocks.
// A panicking callback is recovered and logged; the triggering operation completes.
type Listener[K comparable, V any] interface {
	OnHit(key K, value V)
	OnMiss(key K)
	OnEvict(key K, value V)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs[K comparable, V any] struct {
	Hit   func(key K, value V)
	Miss  func(key K)
	Evict func(key K, value V)
}

func (f ListenerFuncs[K, V]) OnHit(key K, value V) {
	if f.Hit != nil {
		f.Hit(key, value)
	}
}

func (f ListenerFuncs[K, V]) OnMiss(key K) {
	if f.Miss != nil {
		f.Miss(key)
	}
}

func (f ListenerFuncs[K, V]) OnEvict(key K, value V) {
	if f.Evict != nil {
		f.Evict(key, value)
	}
}

// ListenerHandle identifies a registration for UnregisterListener.
type ListenerHandle uint64

type eventKind uint8

const (
	eventHit eventKind = iota
	eventMiss
	eventEvict
)

func (k eventKind) String() string {
	switch k {
	case eventHit:
		return "hit"
	case eventMiss:
		return "miss"
	case eventEvict:
		return "evict"
	default:
		return "unknown"
	}
}

type registration[K comparable, V any] struct {
	handle   ListenerHandle
	listener Listener[K, V]
}

// listenerSet is a small ordered set of listeners; guarded by the cache lock.
type listenerSet[K comparable, V any] struct {
	regs   []registration[K, V]
	nextID ListenerHandle
	logger *slog.Logger
}

func (s *listenerSet[K, V]) add(l Listener[K, V]) ListenerHandle {
	s.nextID++
	s.regs = append(s.regs, registration[K, V]{handle: s.nextID, listener: l})
	return s.nextID
}

func (s *listenerSet[K, V]) remove(h ListenerHandle) bool {
	for i, r := range s.regs {
		if r.handle == h {
			s.regs = append(s.regs[:i:i], s.regs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *listenerSet[K, V]) emit(kind eventKind, key K, value V) {
	for _, r := range s.regs {
		s.dispatch(r, kind, key, value)
	}
}

func (s *listenerSet[K, V]) dispatch(r registration[K, V], kind eventKind, key K, value V) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("cache listener panicked",
				"event", kind.String(),
				"listener", uint64(r.handle),
				"key", fmt.Sprint(key),
				"panic", rec,
			)
		}
	}()

	switch kind {
	case eventHit:
		r.listener.OnHit(key, value)
	case eventMiss:
		r.listener.OnMiss(key)
	case eventEvict:
		r.listener.OnEvict(key, value)
	}
}
