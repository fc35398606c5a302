package fulfillment

import "sync"

const lockStripes = 64

// orderLocks serializes processing per order id across the worker pool.
// Ids are striped over a fixed set of mutexes; a stripe collision only
// over-serializes, never under-locks.
type orderLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *orderLocks) lock(orderID int64) func() {
	m := &l.stripes[uint64(orderID)%lockStripes]
	m.Lock()
	return m.Unlock
}
