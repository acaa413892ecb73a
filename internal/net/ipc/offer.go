package ipc

import "sync"

// OfferState is the two-state gate deciding whether a service instance
// accepts requests and subscriptions.
type OfferState int32

const (
	NotOffered OfferState = iota
	Offered
)

var offerStateNames = []string{
	"not-offered",
	"offered",
}

func (s OfferState) String() string {
	return offerStateNames[s]
}

// OfferGate tracks whether a service instance is currently offered. The
// hooks given to NewOfferGate run on every transition into NotOffered,
// after the state has changed and with the gate lock released; the owning
// skeleton uses one to clear its subscriber registry, which is a mandated
// part of the stop-offer transition.
type OfferGate struct {
	mu     sync.Mutex
	state  OfferState
	onStop []func()
}

func NewOfferGate(onStop ...func()) *OfferGate {
	return &OfferGate{onStop: onStop}
}

// StartOffering moves the gate to Offered. Reports false if it already was.
func (g *OfferGate) StartOffering() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Offered {
		return false
	}
	g.state = Offered

	return true
}

// StopOffering moves the gate to NotOffered and runs the stop hooks.
// Reports false if the gate was not offered (hooks do not run then).
func (g *OfferGate) StopOffering() bool {
	g.mu.Lock()
	if g.state == NotOffered {
		g.mu.Unlock()
		return false
	}
	g.state = NotOffered
	g.mu.Unlock()

	// 锁外执行,hook 里会操作带锁的 registry
	for _, fn := range g.onStop {
		fn()
	}

	return true
}

// IsOffered reports whether the gate is currently in the Offered state.
func (g *OfferGate) IsOffered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == Offered
}
