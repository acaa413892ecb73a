package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kanengo/someipc/runtime/metrics"
	"github.com/kanengo/someipc/runtime/retry"
)

var (
	drainedRequests = metrics.NewCounter("someipc_proxy_drained_requests")
	staleResponses  = metrics.NewCounter("someipc_proxy_stale_responses")
)

// NotificationHandler consumes an event notification payload. It runs on the
// connection's read goroutine and must not block.
type NotificationHandler func(payload []byte)

// ProxyConn is the client half of the binding for one service instance: it
// issues method requests, correlates responses back to their completions and
// delivers event notifications. A dropped connection is redialed in the
// background; requests issued while the service is down fail immediately
// with ErrNotOffered.
type ProxyConn struct {
	opts     ClientOptions
	ident    ServiceIdentity
	resolver Resolver

	sessions *SessionAllocator
	pending  PendingRequests

	wLock sync.Mutex // serializes writes to the connection

	mu        sync.Mutex
	c         net.Conn
	cBuf      *bufio.Reader
	serviceUp bool // mirror of the remote offer state
	closed    bool
	subs      map[MethodID]NotificationHandler

	cancelManage func()
	manageDone   sync.WaitGroup
}

// DialProxy starts a proxy connection for the given service instance. The
// connection is established and maintained in the background; use Request's
// completion (or Invoke's error) to observe availability.
func DialProxy(ctx context.Context, ident ServiceIdentity, resolver Resolver, opts ClientOptions) (*ProxyConn, error) {
	opts = opts.withDefaults()

	endpoints, _, err := resolver.Resolve(ctx, nil)
	if err != nil {
		return nil, err
	}
	if resolver.IsConstant() && len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints available", Unreachable)
	}

	p := &ProxyConn{
		opts:     opts,
		ident:    ident,
		resolver: resolver,
		sessions: NewSessionAllocator(opts.SessionLimit),
		subs:     make(map[MethodID]NotificationHandler),
	}

	manageCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelManage = cancel
	p.manageDone.Add(1)
	go p.manage(manageCtx)

	return p, nil
}

// manage 维护一条存活的连接,断开后自动重连
func (p *ProxyConn) manage(ctx context.Context) {
	defer p.manageDone.Done()

	for r := retry.Begin(); r.Continue(ctx); {
		if p.connectOnce(ctx) {
			r.Reset()
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
	}
}

// connectOnce resolves, dials and services a single connection until it
// fails. Reports whether the connection ever carried traffic.
func (p *ProxyConn) connectOnce(ctx context.Context) bool {
	endpoints, _, err := p.resolver.Resolve(ctx, nil)
	if err != nil {
		logError(p.opts.Logger, "resolve", err)
		return false
	}
	if len(endpoints) == 0 {
		return false
	}

	nc, err := endpoints[0].Dial(ctx)
	if err != nil {
		logError(p.opts.Logger, "dial", err)
		return false
	}
	defer func() {
		_ = nc.Close()
	}()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.c = nc
	p.cBuf = bufio.NewReader(nc)
	cBuf := p.cBuf
	p.mu.Unlock()

	for {
		if err := p.readAndProcessMessage(cBuf); err != nil {
			p.connectionDown("proxy read", err)
			return true
		}
	}
}

// connectionDown tears down connection state and fails every pending
// request: a dropped connection can no longer deliver their responses.
func (p *ProxyConn) connectionDown(details string, err error) {
	logError(p.opts.Logger, details, err)

	p.mu.Lock()
	p.c = nil
	p.cBuf = nil
	p.serviceUp = false
	p.mu.Unlock()

	p.drainPending(fmt.Errorf("%w: %s: %v", CommunicationError, details, err))
}

// drainPending empties the pending table entry by entry, resolving each
// completion with the given error.
func (p *ProxyConn) drainPending(err error) {
	for {
		_, c, ok := p.pending.MoveOutNextRequest()
		if !ok {
			return
		}
		c.SetError(err)
		drainedRequests.Inc()
	}
}

// readAndProcessMessage runs the response-dispatch path for one inbound
// message.
func (p *ProxyConn) readAndProcessMessage(cBuf *bufio.Reader) error {
	hdr, _, payload, err := readMessage(cBuf)
	if err != nil {
		return err
	}

	switch hdr.Type {
	case msgResponse:
		c := p.pending.MoveOutRequest(hdr.Session)
		if c == nil {
			// 过期/重复的响应,记录后丢弃
			staleResponses.Inc()
			p.opts.Logger.Debug("dropping uncorrelated response", "session", hdr.Session, "method", hdr.Method)
			return nil
		}
		c.SetValue(payload)
	case msgError:
		c := p.pending.MoveOutRequest(hdr.Session)
		if c == nil {
			staleResponses.Inc()
			p.opts.Logger.Debug("dropping uncorrelated error response", "session", hdr.Session, "method", hdr.Method)
			return nil
		}
		c.SetError(errorFromWire(hdr, payload))
	case msgNotification:
		p.mu.Lock()
		fn := p.subs[hdr.Method]
		p.mu.Unlock()
		if fn == nil {
			p.opts.Logger.Debug("dropping notification without subscription", "event", hdr.Method)
			return nil
		}
		fn(payload)
	case msgOfferService:
		p.setServiceUp(true)
		p.reannounceSubscriptions()
	case msgStopOfferService:
		p.setServiceUp(false)
		// 服务下线,所有在途请求立即失败
		p.drainPending(ErrNotOffered)
	default:
		return fmt.Errorf("invalid message type 0x%02x", uint8(hdr.Type))
	}

	return nil
}

func errorFromWire(hdr Header, payload []byte) error {
	if hdr.Return == RcNotReady {
		// 服务端拒绝:尚未提供服务
		return ErrNotOffered
	}
	if hdr.Return == RcNotOk {
		appErr, err := decodeAppError(payload)
		if err != nil {
			return fmt.Errorf("%w: undecodable application error: %v", CommunicationError, err)
		}
		return appErr
	}

	return &ProtocolError{Return: hdr.Return}
}

// reannounceSubscriptions replays the local subscription set after a
// (re-)offer, so the skeleton's registry matches it again.
func (p *ProxyConn) reannounceSubscriptions() {
	p.mu.Lock()
	nc := p.c
	events := make([]MethodID, 0, len(p.subs))
	for event := range p.subs {
		events = append(events, event)
	}
	p.mu.Unlock()

	if nc == nil {
		return
	}
	for _, event := range events {
		if err := p.sendControl(nc, msgSubscribeEvent, event); err != nil {
			logError(p.opts.Logger, "re-subscribe", err)
			return
		}
	}
}

func (p *ProxyConn) setServiceUp(up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serviceUp = up
}

// ServiceUp reports the proxy's current mirror of the offer state.
func (p *ProxyConn) ServiceUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serviceUp
}

// PendingLen reports the number of requests awaiting a response.
func (p *ProxyConn) PendingLen() int {
	return p.pending.Len()
}

// Request issues a method request and returns its completion handle. Every
// failure mode is delivered through the completion; Request itself never
// fails.
func (p *ProxyConn) Request(ctx context.Context, method MethodID, payload []byte) *Completion {
	c := newCompletion()

	p.mu.Lock()
	nc := p.c
	up := p.serviceUp && nc != nil && !p.closed
	p.mu.Unlock()

	if !up {
		// 未提供服务,不分配 session id 也不进 pending 表
		c.SetError(ErrNotOffered)
		return c
	}

	sid := p.sessions.Next()

	var hdrBuf [wireHeaderLen]byte
	hdr := Header{
		Ident:    p.ident,
		Method:   method,
		ClientID: p.opts.ClientID,
		Session:  sid,
		Protocol: protocolVersion,
		Type:     msgRequest,
		Return:   RcOk,
	}
	hdr.encode(hdrBuf[:])
	writeTraceContext(ctx, hdrBuf[headerLen:])

	if !p.pending.StoreRequest(sid, c) {
		c.SetError(ErrSessionInUse)
		return c
	}

	if err := writeMessage(nc, &p.wLock, hdrBuf[:], payload, p.opts.WriteFlattenLimit); err != nil {
		// 发送失败:为同一个 session 合成错误响应,走正常的完成路径
		p.completeWithError(sid, fmt.Errorf("%w: %v", Unreachable, err))
	}

	return c
}

// completeWithError routes a locally synthesized failure through the normal
// response-completion path.
func (p *ProxyConn) completeWithError(sid SessionID, err error) {
	if c := p.pending.MoveOutRequest(sid); c != nil {
		c.SetError(err)
	}
}

// Invoke issues a method request and waits for its result.
func (p *ProxyConn) Invoke(ctx context.Context, method MethodID, payload []byte) ([]byte, error) {
	ctx, span := p.opts.Tracer.Start(ctx, fmt.Sprintf("method-%d", method),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	c := p.Request(ctx, method, payload)
	res, err := c.Wait(ctx, p.opts.OptimisticSpinDuration)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return res, err
}

// RequestNoReturn issues a fire-and-forget request. No completion exists;
// only an immediate local failure is reported.
func (p *ProxyConn) RequestNoReturn(ctx context.Context, method MethodID, payload []byte) error {
	p.mu.Lock()
	nc := p.c
	up := p.serviceUp && nc != nil && !p.closed
	p.mu.Unlock()

	if !up {
		return ErrNotOffered
	}

	var hdrBuf [wireHeaderLen]byte
	hdr := Header{
		Ident:    p.ident,
		Method:   method,
		ClientID: p.opts.ClientID,
		Session:  p.sessions.Next(),
		Protocol: protocolVersion,
		Type:     msgRequestNoReturn,
		Return:   RcOk,
	}
	hdr.encode(hdrBuf[:])
	writeTraceContext(ctx, hdrBuf[headerLen:])

	if err := writeMessage(nc, &p.wLock, hdrBuf[:], payload, p.opts.WriteFlattenLimit); err != nil {
		return fmt.Errorf("%w: %v", Unreachable, err)
	}

	return nil
}

// Subscribe registers fn for the event and announces the subscription to the
// skeleton. The handler runs on the read goroutine.
func (p *ProxyConn) Subscribe(event MethodID, fn NotificationHandler) error {
	p.mu.Lock()
	nc := p.c
	up := p.serviceUp && nc != nil && !p.closed
	if up {
		p.subs[event] = fn
	}
	p.mu.Unlock()

	if !up {
		return ErrNotOffered
	}

	return p.sendControl(nc, msgSubscribeEvent, event)
}

// Unsubscribe gives up the subscription for the event.
func (p *ProxyConn) Unsubscribe(event MethodID) error {
	p.mu.Lock()
	nc := p.c
	delete(p.subs, event)
	closed := p.closed
	p.mu.Unlock()

	if closed || nc == nil {
		return nil
	}

	return p.sendControl(nc, msgUnsubscribeEvent, event)
}

func (p *ProxyConn) sendControl(nc net.Conn, mt messageType, event MethodID) error {
	var hdrBuf [wireHeaderLen]byte
	hdr := Header{
		Ident:    p.ident,
		Method:   event,
		ClientID: p.opts.ClientID,
		Protocol: protocolVersion,
		Type:     mt,
		Return:   RcOk,
	}
	hdr.encode(hdrBuf[:])

	if err := writeMessage(nc, &p.wLock, hdrBuf[:], nil, p.opts.WriteFlattenLimit); err != nil {
		return fmt.Errorf("%w: %v", Unreachable, err)
	}

	return nil
}

// Close shuts the proxy connection down and fails everything still pending.
func (p *ProxyConn) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.serviceUp = false
	nc := p.c
	p.mu.Unlock()

	p.cancelManage()
	if nc != nil {
		_ = nc.Close()
	}
	p.drainPending(fmt.Errorf("%w: connection closed", CommunicationError))
	p.manageDone.Wait()
}

func logError(logger *slog.Logger, details string, err error) {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) {
		logger.Info(details, "err", err)
	} else {
		logger.Error(details, "err", err)
	}
}
