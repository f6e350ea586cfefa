package cache

// entry is the node shared by the key map, the tier lists and the expiry heap.
// Every field is guarded by the owning cache's mutex.
type entry[K comparable, V any] struct {
	key         K
	value       V
	priority    int
	expireAt    int64 // absolute ns; expired once now >= expireAt
	createdAt   int64
	lastAccess  int64
	accessCount int64

	prev *entry[K, V]
	next *entry[K, V]

	heapIndex int // position in expiryHeap; noHeapIndex when not queued
}

func (e *entry[K, V]) expired(now int64) bool {
	return now >= e.expireAt
}

// reset drops references so pooled nodes do not pin keys or values.
func (e *entry[K, V]) reset() {
	var (
		zk K
		zv V
	)
	e.key = zk
	e.value = zv
	e.priority = 0
	e.expireAt = 0
	e.createdAt = 0
	e.lastAccess = 0
	e.accessCount = 0
	e.prev = nil
	e.next = nil
	e.heapIndex = noHeapIndex
}
