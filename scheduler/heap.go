package scheduler

import (
	"container/heap"
	"time"
)

// entry is one heap element. UUID is stored as the raw 16-byte value;
// the 32-hex-char string form is reconstituted only when publishing
// (spec.md §4.3, a deliberate memory-optimization invariant).
type entry struct {
	uuid     [16]byte
	function string
	interval time.Duration
	nextFire time.Time
	index    int // maintained by container/heap
}

// reservationHeap is a min-heap ordered by nextFire.
type reservationHeap []*entry

func (h reservationHeap) Len() int { return len(h) }

func (h reservationHeap) Less(i, j int) bool {
	return h[i].nextFire.Before(h[j].nextFire)
}

func (h reservationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *reservationHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *reservationHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*reservationHeap)(nil)
