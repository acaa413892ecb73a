package ipc

import "sync"

// SubscriberConn is the slice of a connection the registry needs: an
// identity, a liveness probe and a way to push a notification. The registry
// never owns the connection; a dead one is pruned lazily during fan-out.
type SubscriberConn interface {
	ConnectionID() string
	Alive() bool
	SendNotification(event MethodID, payload []byte) error
}

type subscriberEntry struct {
	conn SubscriberConn
	// refs counts distinct event subscriptions held by this connection.
	refs int
}

// SubscriberRegistry tracks, per connection, how many event subscriptions
// that connection holds. It is guarded by its own lock, distinct from any
// send-path lock: subscription changes and notification fan-out are
// concurrent. The lock is never held while calling into a connection.
type SubscriberRegistry struct {
	mu   sync.Mutex
	subs map[string]*subscriberEntry
}

func NewSubscriberRegistry() *SubscriberRegistry {
	return &SubscriberRegistry{subs: make(map[string]*subscriberEntry)}
}

// AddSubscriber records one more event subscription for conn, inserting a
// new entry with a count of one if the connection is not yet known.
func (r *SubscriberRegistry) AddSubscriber(conn SubscriberConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ConnectionID()
	if e, ok := r.subs[id]; ok {
		e.refs++
		return
	}
	r.subs[id] = &subscriberEntry{conn: conn, refs: 1}
}

// RemoveSubscriber gives up one event subscription for the connection. The
// entry disappears once its count reaches zero.
func (r *SubscriberRegistry) RemoveSubscriber(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.subs[connectionID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.subs, connectionID)
	}
}

// RemoveConnection erases all state for the connection, whatever its
// subscription count. Called on disconnect.
func (r *SubscriberRegistry) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, connectionID)
}

// Clear erases every subscriber. Called on stop-offer.
func (r *SubscriberRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.subs)
}

// Len returns the number of subscribed connections.
func (r *SubscriberRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// ForEach invokes fn for every live subscriber. Entries whose connection has
// died are pruned instead of yielded. fn runs outside the registry lock, so
// it may re-enter the registry (a subscriber noticing its peer is gone may
// remove itself).
func (r *SubscriberRegistry) ForEach(fn func(SubscriberConn)) {
	r.mu.Lock()
	live := make([]SubscriberConn, 0, len(r.subs))
	for id, e := range r.subs {
		if !e.conn.Alive() {
			// 连接已失效,惰性清理
			delete(r.subs, id)
			continue
		}
		live = append(live, e.conn)
	}
	r.mu.Unlock()

	for _, conn := range live {
		fn(conn)
	}
}
