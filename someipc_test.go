package someipc

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

var testIdent = ServiceIdentity{Service: 0x1234, Instance: 1, Major: 1}

// pipeEndpoint dials in-process pipes served by the skeleton, so the tests
// exercise the full proxy/skeleton path without sockets.
type pipeEndpoint struct {
	ctx context.Context
	sk  *Skeleton
}

func (e pipeEndpoint) Dial(context.Context) (net.Conn, error) {
	c1, c2 := net.Pipe()
	go e.sk.ServeConn(e.ctx, c2)
	return c1, nil
}

func (e pipeEndpoint) Address() string { return "pipe://local" }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startPair(t *testing.T, configure func(*Skeleton)) (*Skeleton, *Proxy) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sk := NewSkeleton(testIdent, SkeletonOptions{})
	configure(sk)

	if err := sk.StartOffering(ctx); err != nil {
		t.Fatal(err)
	}

	p, err := DialResolver(ctx, testIdent, ConstantResolver(pipeEndpoint{ctx: ctx, sk: sk}), ProxyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)

	waitFor(t, "service up", p.Up)

	return sk, p
}

func TestCallRoundTrip(t *testing.T) {
	_, p := startPair(t, func(sk *Skeleton) {
		sk.Handle(1, "Echo", func(_ context.Context, payload []byte) ([]byte, error) {
			return append([]byte("re:"), payload...), nil
		})
	})

	got, err := p.Call(context.Background(), 1, []byte("ping"))
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte("re:ping"); !bytes.Equal(got, want) {
		t.Errorf("Call: got %q, want %q", got, want)
	}
	if got, want := p.Pending(), 0; got != want {
		t.Errorf("Pending after call: got %d, want %d", got, want)
	}
}

func TestCallSequential(t *testing.T) {
	_, p := startPair(t, func(sk *Skeleton) {
		sk.Handle(1, "Echo", func(_ context.Context, payload []byte) ([]byte, error) {
			return payload, nil
		})
	})

	for i := 0; i < 20; i++ {
		payload := []byte{byte(i)}
		got, err := p.Call(context.Background(), 1, payload)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("call %d: got %v, want %v", i, got, payload)
		}
	}
}

func TestCallApplicationError(t *testing.T) {
	_, p := startPair(t, func(sk *Skeleton) {
		sk.Handle(1, "Fail", func(context.Context, []byte) ([]byte, error) {
			return nil, &ApplicationError{Code: 42, Message: "out of range"}
		})
	})

	_, err := p.Call(context.Background(), 1, nil)
	var appErr *ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("Call: got %v, want *ApplicationError", err)
	}
	if appErr.Code != 42 || appErr.Message != "out of range" {
		t.Errorf("application error: got %+v, want {42 out of range}", appErr)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	_, p := startPair(t, func(*Skeleton) {})

	_, err := p.Call(context.Background(), 77, nil)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Call: got %v, want *ProtocolError", err)
	}
	if got, want := protoErr.Return, ReturnCode(0x03); got != want {
		t.Errorf("return code: got 0x%02x, want 0x%02x", uint8(got), uint8(want))
	}
}

func TestCallBeforeOffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sk := NewSkeleton(testIdent, SkeletonOptions{})

	p, err := DialResolver(ctx, testIdent, ConstantResolver(pipeEndpoint{ctx: ctx, sk: sk}), ProxyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)

	if p.Up() {
		t.Fatal("Up before offer: got true, want false")
	}
	if _, err := p.Call(ctx, 1, nil); !errors.Is(err, ErrNotOffered) {
		t.Errorf("Call before offer: got %v, want %v", err, ErrNotOffered)
	}
	if got, want := p.Pending(), 0; got != want {
		t.Errorf("Pending: got %d, want %d", got, want)
	}
}

func TestFireAndForget(t *testing.T) {
	received := make(chan []byte, 1)
	_, p := startPair(t, func(sk *Skeleton) {
		sk.HandleFireForget(2, "Report", func(_ context.Context, payload []byte) {
			received <- payload
		})
	})

	if err := p.FireAndForget(context.Background(), 2, []byte("speeding")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, []byte("speeding")) {
			t.Errorf("handler payload: got %q, want %q", got, "speeding")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fire-and-forget handler never ran")
	}
	if got, want := p.Pending(), 0; got != want {
		t.Errorf("Pending: got %d, want %d", got, want)
	}
}

func TestNotify(t *testing.T) {
	sk, p := startPair(t, func(*Skeleton) {})

	events := make(chan []byte, 4)
	if err := p.Subscribe(0x8001, func(payload []byte) {
		events <- payload
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscriber registered", func() bool { return sk.Subscribers() == 1 })

	if err := sk.Notify(0x8001, []byte("limit=50")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-events:
		if !bytes.Equal(got, []byte("limit=50")) {
			t.Errorf("notification: got %q, want %q", got, "limit=50")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}

	if err := p.Unsubscribe(0x8001); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscriber removed", func() bool { return sk.Subscribers() == 0 })
}

func TestStopOfferingDrainsPending(t *testing.T) {
	release := make(chan struct{})
	sk, p := startPair(t, func(sk *Skeleton) {
		sk.Handle(1, "Block", func(context.Context, []byte) ([]byte, error) {
			<-release
			return []byte("late"), nil
		})
	})
	defer close(release)

	comp := p.CallAsync(context.Background(), 1, nil)
	waitFor(t, "request pending", func() bool { return p.Pending() == 1 })

	if err := sk.StopOffering(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := comp.Wait(context.Background(), 0); !errors.Is(err, ErrNotOffered) {
		t.Errorf("drained completion: got %v, want %v", err, ErrNotOffered)
	}
	if got, want := p.Pending(), 0; got != want {
		t.Errorf("Pending after drain: got %d, want %d", got, want)
	}

	waitFor(t, "service down", func() bool { return !p.Up() })
	if _, err := p.Call(context.Background(), 1, nil); !errors.Is(err, ErrNotOffered) {
		t.Errorf("Call after stop-offer: got %v, want %v", err, ErrNotOffered)
	}
}

func TestResubscribeAfterReoffer(t *testing.T) {
	sk, p := startPair(t, func(*Skeleton) {})

	events := make(chan []byte, 4)
	if err := p.Subscribe(0x8001, func(payload []byte) {
		events <- payload
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscriber registered", func() bool { return sk.Subscribers() == 1 })

	// Stop-offer clears the registry on the skeleton side.
	if err := sk.StopOffering(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got, want := sk.Subscribers(), 0; got != want {
		t.Fatalf("Subscribers after stop-offer: got %d, want %d", got, want)
	}

	// Re-offering makes the proxy re-announce its subscription set.
	if err := sk.StartOffering(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscription re-announced", func() bool { return sk.Subscribers() == 1 })

	if err := sk.Notify(0x8001, []byte("again")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-events:
		if !bytes.Equal(got, []byte("again")) {
			t.Errorf("notification: got %q, want %q", got, "again")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification after re-offer never arrived")
	}
}

func TestServeTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sk := NewSkeleton(testIdent, SkeletonOptions{})
	sk.Handle(1, "Echo", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})

	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = sk.Serve(ctx, l)
	}()

	if err := sk.StartOffering(ctx); err != nil {
		t.Fatal(err)
	}

	p, err := Dial(ctx, testIdent, "tcp://"+l.Addr().String(), ProxyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)

	waitFor(t, "service up", p.Up)

	got, err := p.Call(ctx, 1, []byte("over tcp"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("over tcp")) {
		t.Errorf("Call: got %q, want %q", got, "over tcp")
	}

	cancel()
	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
