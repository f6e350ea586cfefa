package cache

import "container/heap"

const noHeapIndex = -1

// expiryHeap is a min-heap of entries keyed by expireAt.
// It lets capacity enforcement and the sweeper find expired entries without
// scanning the key map.
type expiryHeap[K comparable, V any] []*entry[K, V]

func (h expiryHeap[K, V]) Len() int { return len(h) }

func (h expiryHeap[K, V]) Less(i, j int) bool { return h[i].expireAt < h[j].expireAt }

func (h expiryHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *expiryHeap[K, V]) Push(x any) {
	e := x.(*entry[K, V])
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = noHeapIndex
	*h = old[:n-1]
	return e
}

func (h *expiryHeap[K, V]) add(e *entry[K, V]) {
	heap.Push(h, e)
}

func (h *expiryHeap[K, V]) remove(e *entry[K, V]) {
	if e.heapIndex == noHeapIndex {
		return
	}
	heap.Remove(h, e.heapIndex)
}

// peekExpired returns the soonest-expiring entry if it has expired at now.
func (h expiryHeap[K, V]) peekExpired(now int64) *entry[K, V] {
	if len(h) == 0 || !h[0].expired(now) {
		return nil
	}
	return h[0]
}
