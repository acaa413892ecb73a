package ipc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Completion is the one-shot handle for the result of an in-flight request.
// It is resolved exactly once, by SetValue or SetError; resolving twice is a
// contract violation and panics.
type Completion struct {
	doneSignal chan struct{}

	response []byte
	err      error

	done uint32
}

func newCompletion() *Completion {
	return &Completion{doneSignal: make(chan struct{})}
}

// SetValue resolves the completion with a successful response payload.
func (c *Completion) SetValue(response []byte) {
	c.response = response
	c.resolve()
}

// SetError resolves the completion with an error.
func (c *Completion) SetError(err error) {
	c.err = err
	c.resolve()
}

func (c *Completion) resolve() {
	if !atomic.CompareAndSwapUint32(&c.done, 0, 1) {
		panic(fmt.Sprintf("completion resolved more than once (response %v, err %v)", c.response, c.err))
	}
	close(c.doneSignal)
}

// Done is closed once the completion has been resolved.
func (c *Completion) Done() <-chan struct{} {
	return c.doneSignal
}

// Resolved reports whether the completion has been resolved yet.
func (c *Completion) Resolved() bool {
	return atomic.LoadUint32(&c.done) > 0
}

// Result returns the outcome. It must only be called after Done is closed.
func (c *Completion) Result() ([]byte, error) {
	return c.response, c.err
}

// Wait blocks until the completion is resolved or ctx is done. A short
// optimistic spin avoids parking the goroutine when the response arrives
// almost immediately, as it does on local transports.
func (c *Completion) Wait(ctx context.Context, spin time.Duration) ([]byte, error) {
	if spin > 0 {
		// 通过自转等待响应返回
		for start := time.Now(); time.Since(start) < spin; {
			if atomic.LoadUint32(&c.done) > 0 {
				return c.response, c.err
			}
		}
	}

	if cDone := ctx.Done(); cDone != nil {
		select {
		case <-c.doneSignal:
		case <-cDone:
			return nil, ctx.Err()
		}
	} else {
		<-c.doneSignal
	}

	return c.response, c.err
}

// PendingRequests maps the session ids of in-flight requests to their
// completion handles. All operations are internally synchronized; request
// sends and response arrivals may race freely.
//
// Entries only ever leave the table through MoveOutRequest or
// MoveOutNextRequest, so each completion can be resolved by exactly one
// caller.
type PendingRequests struct {
	mu      sync.Mutex
	pending map[SessionID]*Completion
}

// StoreRequest inserts a new pending entry for id. It reports false, leaving
// the table untouched, if id is already present - the session id is still in
// use by an outstanding request.
func (t *PendingRequests) StoreRequest(id SessionID, c *Completion) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		t.pending = make(map[SessionID]*Completion)
	}

	if _, ok := t.pending[id]; ok {
		return false
	}
	t.pending[id] = c

	return true
}

// MoveOutRequest removes and returns the entry for id, or nil if there is
// none (stale, duplicate or already drained response - the caller logs and
// drops).
func (t *PendingRequests) MoveOutRequest(id SessionID) *Completion {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)

	return c
}

// MoveOutNextRequest removes and returns an arbitrary remaining entry, for
// draining the table entry by entry. No ordering is promised across drains.
func (t *PendingRequests) MoveOutNextRequest() (SessionID, *Completion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, c := range t.pending {
		delete(t.pending, id)
		return id, c, true
	}

	return 0, nil, false
}

// Len returns the number of requests currently pending.
func (t *PendingRequests) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
