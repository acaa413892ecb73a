package ipc

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
)

// testProxy builds a ProxyConn around an existing connection, skipping the
// dial/manage machinery.
func testProxy(c net.Conn, up bool) *ProxyConn {
	p := &ProxyConn{
		opts:     ClientOptions{}.withDefaults(),
		ident:    ServiceIdentity{Service: 1, Instance: 1, Major: 1},
		sessions: NewSessionAllocator(0),
		subs:     make(map[MethodID]NotificationHandler),
	}
	p.c = c
	p.serviceUp = up
	return p
}

func TestRequestNotOffered(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	p := testProxy(c1, false)

	comp := p.Request(context.Background(), 1, nil)
	if _, err := comp.Result(); !errors.Is(err, ErrNotOffered) {
		t.Fatalf("Request while not offered: got %v, want %v", err, ErrNotOffered)
	}
	if got, want := p.PendingLen(), 0; got != want {
		t.Errorf("PendingLen: got %d, want %d", got, want)
	}

	// 被拒绝的请求不得消耗 session id
	if got, want := p.sessions.Next(), SessionID(0); got != want {
		t.Errorf("next session id: got %d, want %d", got, want)
	}
}

func TestRequestSendFailure(t *testing.T) {
	c1, c2 := net.Pipe()
	c1.Close()
	c2.Close()

	p := testProxy(c1, true)

	comp := p.Request(context.Background(), 1, []byte("x"))
	if !comp.Resolved() {
		t.Fatal("send failure must resolve the completion synchronously")
	}
	if _, err := comp.Result(); !errors.Is(err, Unreachable) {
		t.Errorf("Result: got %v, want %v", err, Unreachable)
	}

	// 合成的错误响应走正常完成路径,不留挂起表残留
	if got, want := p.PendingLen(), 0; got != want {
		t.Errorf("PendingLen: got %d, want %d", got, want)
	}
}

func TestRequestSessionInUse(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	go func() {
		// Swallow whatever the proxy writes; never answer.
		_, _ = io.Copy(io.Discard, c2)
	}()

	p := testProxy(c1, true)
	p.sessions = NewSessionAllocator(1) // every request gets session 0

	first := p.Request(context.Background(), 1, nil)
	if first.Resolved() {
		t.Fatal("first request resolved early")
	}

	second := p.Request(context.Background(), 1, nil)
	if _, err := second.Result(); !errors.Is(err, ErrSessionInUse) {
		t.Fatalf("colliding request: got %v, want %v", err, ErrSessionInUse)
	}

	// The collision must not disturb the original in-flight entry.
	if got := p.pending.MoveOutRequest(0); got == nil {
		t.Error("original pending entry lost")
	}
}

func TestDrainPending(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	go func() {
		_, _ = io.Copy(io.Discard, c2)
	}()

	p := testProxy(c1, true)

	comps := make([]*Completion, 3)
	for i := range comps {
		comps[i] = p.Request(context.Background(), MethodID(i), nil)
	}
	if got, want := p.PendingLen(), 3; got != want {
		t.Fatalf("PendingLen: got %d, want %d", got, want)
	}

	p.drainPending(ErrNotOffered)

	for i, comp := range comps {
		if _, err := comp.Result(); !errors.Is(err, ErrNotOffered) {
			t.Errorf("completion %d: got %v, want %v", i, err, ErrNotOffered)
		}
	}
	if got, want := p.PendingLen(), 0; got != want {
		t.Errorf("PendingLen after drain: got %d, want %d", got, want)
	}
}

func TestErrorFromWire(t *testing.T) {
	appPayload := encodeAppError(&ApplicationError{Code: 12, Message: "bad speed"})

	t.Run("application error", func(t *testing.T) {
		err := errorFromWire(Header{Return: RcNotOk}, appPayload)
		var appErr *ApplicationError
		if !errors.As(err, &appErr) {
			t.Fatalf("got %v, want *ApplicationError", err)
		}
		if appErr.Code != 12 || appErr.Message != "bad speed" {
			t.Errorf("got %+v, want {12 bad speed}", appErr)
		}
	})

	t.Run("not ready maps to not offered", func(t *testing.T) {
		if err := errorFromWire(Header{Return: RcNotReady}, nil); !errors.Is(err, ErrNotOffered) {
			t.Errorf("got %v, want %v", err, ErrNotOffered)
		}
	})

	t.Run("protocol error", func(t *testing.T) {
		err := errorFromWire(Header{Return: RcUnknownMethod}, nil)
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("got %v, want *ProtocolError", err)
		}
		if protoErr.Return != RcUnknownMethod {
			t.Errorf("return code: got 0x%02x, want 0x%02x", uint8(protoErr.Return), uint8(RcUnknownMethod))
		}
	})

	t.Run("undecodable application error", func(t *testing.T) {
		if err := errorFromWire(Header{Return: RcNotOk}, []byte{1}); !errors.Is(err, CommunicationError) {
			t.Errorf("got %v, want %v", err, CommunicationError)
		}
	})
}
