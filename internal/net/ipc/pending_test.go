package ipc

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoreRequestDuplicate(t *testing.T) {
	var table PendingRequests

	first := newCompletion()
	if !table.StoreRequest(7, first) {
		t.Fatal("StoreRequest(7): got false, want true")
	}
	if table.StoreRequest(7, newCompletion()) {
		t.Fatal("StoreRequest(7) again: got true, want false")
	}

	// The colliding store must not have displaced the original entry.
	if got := table.MoveOutRequest(7); got != first {
		t.Errorf("MoveOutRequest(7): got %p, want the first completion %p", got, first)
	}
	if got, want := table.Len(), 0; got != want {
		t.Errorf("Len(): got %d, want %d", got, want)
	}
}

func TestMoveOutRequestOnce(t *testing.T) {
	var table PendingRequests
	table.StoreRequest(1, newCompletion())

	if table.MoveOutRequest(1) == nil {
		t.Fatal("MoveOutRequest(1): got nil, want completion")
	}
	if got := table.MoveOutRequest(1); got != nil {
		t.Errorf("MoveOutRequest(1) again: got %p, want nil", got)
	}
	if got := table.MoveOutRequest(42); got != nil {
		t.Errorf("MoveOutRequest(42): got %p, want nil", got)
	}
}

func TestMoveOutNextRequestDrain(t *testing.T) {
	var table PendingRequests
	for i := SessionID(0); i < 5; i++ {
		table.StoreRequest(i, newCompletion())
	}

	seen := make(map[SessionID]bool)
	for {
		id, c, ok := table.MoveOutNextRequest()
		if !ok {
			break
		}
		if c == nil {
			t.Fatalf("MoveOutNextRequest: nil completion for id %d", id)
		}
		if seen[id] {
			t.Fatalf("MoveOutNextRequest: id %d yielded twice", id)
		}
		seen[id] = true
	}

	if got, want := len(seen), 5; got != want {
		t.Errorf("drained entries: got %d, want %d", got, want)
	}
	if got, want := table.Len(), 0; got != want {
		t.Errorf("Len() after drain: got %d, want %d", got, want)
	}
}

func TestCompletionResolveTwicePanics(t *testing.T) {
	c := newCompletion()
	c.SetValue([]byte("ok"))

	defer func() {
		if recover() == nil {
			t.Error("second resolve: expected panic")
		}
	}()
	c.SetError(errors.New("boom"))
}

func TestCompletionWait(t *testing.T) {
	c := newCompletion()
	go c.SetValue([]byte("pong"))

	got, err := c.Wait(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("pong")) {
		t.Errorf("Wait: got %q, want %q", got, "pong")
	}
	if !c.Resolved() {
		t.Error("Resolved(): got false, want true")
	}
}

func TestCompletionWaitSpin(t *testing.T) {
	c := newCompletion()
	c.SetValue([]byte("fast"))

	got, err := c.Wait(context.Background(), 10*time.Microsecond)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("fast")) {
		t.Errorf("Wait: got %q, want %q", got, "fast")
	}
}

func TestCompletionWaitCanceled(t *testing.T) {
	c := newCompletion()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on canceled ctx: got %v, want %v", err, context.Canceled)
	}

	// The completion itself is still unresolved and usable.
	if c.Resolved() {
		t.Error("Resolved(): got true, want false")
	}
	c.SetError(errors.New("late"))
}
