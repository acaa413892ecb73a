package ipc

import "sync"

// DefaultSessionLimit is the number of distinct session ids available to one
// allocator before it wraps.
const DefaultSessionLimit = 1 << 16

// SessionAllocator hands out wire-level correlation ids for one method
// instance. Ids are handed out in increasing order and wrap back to zero once
// limit is reached. An id is only guaranteed unique among requests that are
// in flight at the same time; callers must keep fewer than limit requests
// outstanding or ids start colliding in the pending table.
type SessionAllocator struct {
	mu    sync.Mutex
	next  uint32
	limit uint32
}

// NewSessionAllocator returns an allocator wrapping at limit. A limit of 0
// selects DefaultSessionLimit.
func NewSessionAllocator(limit uint32) *SessionAllocator {
	if limit == 0 || limit > DefaultSessionLimit {
		limit = DefaultSessionLimit
	}
	return &SessionAllocator{limit: limit}
}

// Next returns the current counter value and advances it. Concurrent callers
// get distinct values; no ordering is promised between them.
func (a *SessionAllocator) Next() SessionID {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := SessionID(a.next)
	a.next++
	if a.next >= a.limit {
		// 到达上限后归零,而不是溢出
		a.next = 0
	}

	return id
}

// Reset sets the counter back to its initial value.
func (a *SessionAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = 0
}
