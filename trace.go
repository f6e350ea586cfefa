package cache

import "time"

// OpKind labels a traced cache operation.
type OpKind uint8

const (
	OpPut OpKind = iota
	OpGet
	OpRemove
	OpEvict
	OpExpire
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpGet:
		return "get"
	case OpRemove:
		return "remove"
	case OpEvict:
		return "evict"
	case OpExpire:
		return "expire"
	default:
		return "unknown"
	}
}

// Operation is one record of the trace log.
// Priority and TTL are set for puts and evictions, Hit for gets.
type Operation[K comparable] struct {
	Kind     OpKind
	Key      K
	Priority int
	TTL      time.Duration
	Hit      bool
	At       time.Time
}

// traceRing keeps the last len(buf) operations; guarded by the cache lock.
type traceRing[K comparable] struct {
	buf  []Operation[K]
	next int
	full bool
}

func newTraceRing[K comparable](capacity int) *traceRing[K] {
	if capacity <= 0 {
		return nil
	}
	return &traceRing[K]{buf: make([]Operation[K], capacity)}
}

func (r *traceRing[K]) record(op Operation[K]) {
	if r == nil {
		return
	}
	r.buf[r.next] = op
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns the retained operations, oldest first.
func (r *traceRing[K]) snapshot() []Operation[K] {
	if r == nil {
		return nil
	}
	if !r.full {
		return append([]Operation[K](nil), r.buf[:r.next]...)
	}
	out := make([]Operation[K], 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

func (r *traceRing[K]) reset() {
	if r == nil {
		return
	}
	clear(r.buf)
	r.next = 0
	r.full = false
}
