package ipc

import (
	"testing"
)

type fakeSubscriber struct {
	id    string
	alive bool
	sent  []MethodID
}

func (f *fakeSubscriber) ConnectionID() string { return f.id }
func (f *fakeSubscriber) Alive() bool          { return f.alive }

func (f *fakeSubscriber) SendNotification(event MethodID, _ []byte) error {
	f.sent = append(f.sent, event)
	return nil
}

func TestSubscriberRefCount(t *testing.T) {
	r := NewSubscriberRegistry()
	sub := &fakeSubscriber{id: "c1", alive: true}

	// 同一连接订阅两个事件,计数为 2
	r.AddSubscriber(sub)
	r.AddSubscriber(sub)
	if got, want := r.Len(), 1; got != want {
		t.Fatalf("Len(): got %d, want %d", got, want)
	}

	r.RemoveSubscriber("c1")
	if got, want := r.Len(), 1; got != want {
		t.Errorf("Len() after first remove: got %d, want %d", got, want)
	}
	r.RemoveSubscriber("c1")
	if got, want := r.Len(), 0; got != want {
		t.Errorf("Len() after second remove: got %d, want %d", got, want)
	}

	// Removing an unknown connection is a no-op.
	r.RemoveSubscriber("c1")
	r.RemoveSubscriber("nope")
}

func TestSubscriberRemoveConnection(t *testing.T) {
	r := NewSubscriberRegistry()
	sub := &fakeSubscriber{id: "c1", alive: true}
	r.AddSubscriber(sub)
	r.AddSubscriber(sub)

	r.RemoveConnection("c1")
	if got, want := r.Len(), 0; got != want {
		t.Errorf("Len() after RemoveConnection: got %d, want %d", got, want)
	}
}

func TestSubscriberForEachPrunesDead(t *testing.T) {
	r := NewSubscriberRegistry()
	live := &fakeSubscriber{id: "live", alive: true}
	dead := &fakeSubscriber{id: "dead", alive: false}
	r.AddSubscriber(live)
	r.AddSubscriber(dead)

	r.ForEach(func(conn SubscriberConn) {
		_ = conn.SendNotification(1, nil)
	})

	if got, want := len(live.sent), 1; got != want {
		t.Errorf("live notifications: got %d, want %d", got, want)
	}
	if got, want := len(dead.sent), 0; got != want {
		t.Errorf("dead notifications: got %d, want %d", got, want)
	}
	if got, want := r.Len(), 1; got != want {
		t.Errorf("Len() after prune: got %d, want %d", got, want)
	}
}

func TestSubscriberClear(t *testing.T) {
	r := NewSubscriberRegistry()
	r.AddSubscriber(&fakeSubscriber{id: "a", alive: true})
	r.AddSubscriber(&fakeSubscriber{id: "b", alive: true})
	r.AddSubscriber(&fakeSubscriber{id: "c", alive: true})

	r.Clear()
	if got, want := r.Len(), 0; got != want {
		t.Errorf("Len() after Clear: got %d, want %d", got, want)
	}
}
