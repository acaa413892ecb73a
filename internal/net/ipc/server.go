package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"

	"github.com/kanengo/someipc/runtime/metrics"
	"github.com/kanengo/someipc/runtime/version"
)

var (
	handledRequests  = metrics.NewCounter("someipc_skeleton_handled_requests")
	unknownMethods   = metrics.NewCounter("someipc_skeleton_unknown_method")
	rejectedRequests = metrics.NewCounter("someipc_skeleton_rejected_not_offered")
	notificationsOut = metrics.NewCounter("someipc_skeleton_notifications_sent")
)

// Server is the skeleton half of the binding for one offered service
// instance: it owns the method router, the subscriber registry and the offer
// gate, and serves any number of proxy connections.
type Server struct {
	opts  ServerOptions
	ident ServiceIdentity

	router *MethodRouter
	subs   *SubscriberRegistry
	offer  *OfferGate

	mu     sync.Mutex
	conns  map[*serverConn]struct{}
	closed bool
}

func NewServer(ident ServiceIdentity, opts ServerOptions) *Server {
	s := &Server{
		opts:   opts.withDefaults(),
		ident:  ident,
		router: NewMethodRouter(),
		subs:   NewSubscriberRegistry(),
		conns:  make(map[*serverConn]struct{}),
	}
	// 停止提供服务时必须清空订阅者
	s.offer = NewOfferGate(s.subs.Clear)

	return s
}

// Router exposes the method routing table. Handlers must be registered
// before StartOffering and deregistered only after StopOffering.
func (s *Server) Router() *MethodRouter {
	return s.router
}

// Subscribers exposes the subscriber registry, mainly for inspection.
func (s *Server) Subscribers() *SubscriberRegistry {
	return s.subs
}

// IsOffered reports whether the instance currently accepts requests.
func (s *Server) IsOffered() bool {
	return s.offer.IsOffered()
}

// StartOffering opens the gate and announces the offer on every connection.
func (s *Server) StartOffering() {
	if !s.offer.StartOffering() {
		return
	}
	s.broadcast(msgOfferService)
}

// StopOffering closes the gate, clears all subscribers (gate hook) and
// announces the stop-offer so clients fail their pending requests.
func (s *Server) StopOffering() {
	if !s.offer.StopOffering() {
		return
	}
	s.broadcast(msgStopOfferService)
}

func (s *Server) broadcast(mt messageType) {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.sendControl(mt); err != nil {
			logError(s.opts.Logger, "broadcast", err)
		}
	}
}

// Notify fans the event payload out to every live subscriber.
func (s *Server) Notify(event MethodID, payload []byte) error {
	if !s.offer.IsOffered() {
		return ErrNotOffered
	}

	s.subs.ForEach(func(conn SubscriberConn) {
		if err := conn.SendNotification(event, payload); err != nil {
			logError(s.opts.Logger, "notify", err)
		}
	})
	notificationsOut.Inc()

	return nil
}

// Serve accepts and services proxy connections until ctx is done or the
// listener fails. MaxConnections, when set, bounds concurrent connections.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.opts.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.opts.MaxConnections)
	}

	s.opts.Logger.Info("serving", "service", s.ident.String(), "addr", l.Addr().String(), "version", version.BindingVersion)

	defer s.stop()

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			_ = l.Close()
			return fmt.Errorf("skeleton error listening on %s: %w", l.Addr(), err)
		}
		s.ServeConn(ctx, conn)
	}
}

// ServeConn services one already-established connection. It is what Serve
// calls per accept, split out so in-process transports (net.Pipe) can be
// served too.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	c := &serverConn{
		srv:         s,
		id:          gonanoid.Must(),
		c:           conn,
		cBuf:        bufio.NewReader(conn),
		cancelFuncs: map[uint32]func(){},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	// 新连接先同步当前的 offer 状态
	if s.offer.IsOffered() {
		if err := c.sendControl(msgOfferService); err != nil {
			logError(s.opts.Logger, "offer announce", err)
		}
	}

	go c.readRequests(ctx, func() { s.unregister(c) })
}

func (s *Server) unregister(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	// 断开的连接不再持有任何订阅
	s.subs.RemoveConnection(c.id)
}

func (s *Server) stop() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.c.Close()
	}
}

// serverConn services a single proxy connection.
type serverConn struct {
	srv  *Server
	id   string
	c    net.Conn
	cBuf *bufio.Reader

	wLock sync.Mutex

	mu          sync.Mutex
	closed      bool
	cancelFuncs map[uint32]func()
}

var _ SubscriberConn = (*serverConn)(nil)

func (c *serverConn) ConnectionID() string {
	return c.id
}

func (c *serverConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// SendNotification pushes one event notification to the peer.
func (c *serverConn) SendNotification(event MethodID, payload []byte) error {
	var hdrBuf [wireHeaderLen]byte
	hdr := Header{
		Ident:    c.srv.ident,
		Method:   event,
		Protocol: protocolVersion,
		Type:     msgNotification,
		Return:   RcOk,
	}
	hdr.encode(hdrBuf[:])

	return writeMessage(c.c, &c.wLock, hdrBuf[:], payload, c.srv.opts.WriteFlattenLimit)
}

func (c *serverConn) sendControl(mt messageType) error {
	var hdrBuf [wireHeaderLen]byte
	hdr := Header{
		Ident:    c.srv.ident,
		Protocol: protocolVersion,
		Type:     mt,
		Return:   RcOk,
	}
	hdr.encode(hdrBuf[:])

	return writeMessage(c.c, &c.wLock, hdrBuf[:], nil, c.srv.opts.WriteFlattenLimit)
}

// reply echoes the request header back with the given message type, return
// code and payload, preserving the session and client ids for correlation.
func (c *serverConn) reply(req Header, mt messageType, rc ReturnCode, payload []byte) error {
	var hdrBuf [wireHeaderLen]byte
	hdr := Header{
		Ident:    c.srv.ident,
		Method:   req.Method,
		ClientID: req.ClientID,
		Session:  req.Session,
		Protocol: protocolVersion,
		Type:     mt,
		Return:   rc,
	}
	hdr.encode(hdrBuf[:])

	return writeMessage(c.c, &c.wLock, hdrBuf[:], payload, c.srv.opts.WriteFlattenLimit)
}

// checkRequest validates the addressing fields of an incoming request and
// returns the return code to reject it with, or RcOk.
func (c *serverConn) checkRequest(hdr Header) ReturnCode {
	if hdr.Protocol != protocolVersion {
		return RcWrongProtocolVersion
	}
	if hdr.Ident.Service != c.srv.ident.Service || hdr.Ident.Instance != c.srv.ident.Instance {
		return RcUnknownService
	}
	if hdr.Ident.Major != c.srv.ident.Major {
		return RcWrongInterfaceVersion
	}
	return RcOk
}

// readRequests reads messages sent over the connection by the proxy until
// the connection fails. It is the single goroutine dispatching into the
// router for this connection, except when the inline-handler takeover
// hands reading to a new goroutine.
func (c *serverConn) readRequests(ctx context.Context, onDone func()) {
	for ctx.Err() == nil {
		hdr, tc, payload, err := readMessage(c.cBuf)
		if err != nil {
			c.shutdown("skeleton read", err)
			onDone()
			return
		}

		switch hdr.Type {
		case msgRequest:
			if rc := c.checkRequest(hdr); rc != RcOk {
				c.replyError(hdr, rc, nil)
				continue
			}
			if !c.srv.offer.IsOffered() {
				// 未提供服务,直接拒绝
				rejectedRequests.Inc()
				c.replyError(hdr, RcNotReady, nil)
				continue
			}
			if d := c.srv.opts.InlineHandlerDuration; d > 0 {
				// 内联执行 handler, 超过规定时间就换一个 goroutine 继续读取请求
				t := time.AfterFunc(d, func() {
					c.readRequests(ctx, onDone)
				})
				c.runHandler(hdr, tc, payload)
				if !t.Stop() {
					// 已有其他 goroutine 在读取请求,本 goroutine 退出
					return
				}
			} else {
				go c.runHandler(hdr, tc, payload)
			}
		case msgRequestNoReturn:
			if rc := c.checkRequest(hdr); rc != RcOk {
				c.srv.opts.Logger.Debug("dropping bad fire-and-forget request", "rc", rc)
				continue
			}
			if !c.srv.offer.IsOffered() {
				rejectedRequests.Inc()
				continue
			}
			c.runFireForget(hdr, tc, payload)
		case msgSubscribeEvent:
			if !c.srv.offer.IsOffered() {
				rejectedRequests.Inc()
				c.replyError(hdr, RcNotReady, nil)
				continue
			}
			c.srv.subs.AddSubscriber(c)
		case msgUnsubscribeEvent:
			c.srv.subs.RemoveSubscriber(c.id)
		default:
			// 协议层错误:记录并丢弃,不终止连接
			c.srv.opts.Logger.Debug("dropping message with unexpected type", "type", fmt.Sprintf("0x%02x", uint8(hdr.Type)))
		}
	}
	_ = c.c.Close()
	onDone()
}

func (c *serverConn) replyError(hdr Header, rc ReturnCode, payload []byte) {
	if err := c.reply(hdr, msgError, rc, payload); err != nil {
		c.shutdown("skeleton write error response", err)
	}
}

// runHandler dispatches one method request and writes its response.
func (c *serverConn) runHandler(hdr Header, tc []byte, payload []byte) {
	methodName := c.srv.router.Name(hdr.Method)

	ctx := context.Background()
	span := trace.SpanFromContext(ctx) // noop span
	if sc := readTraceContext(tc); sc.IsValid() {
		ctx, span = c.srv.opts.Tracer.Start(trace.ContextWithSpanContext(ctx, sc), methodName,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	defer func() {
		if cancelFunc != nil {
			cancelFunc()
		}
	}()

	key := requestKey(hdr)
	if err := c.startRequest(key, cancelFunc); err != nil {
		// 连接已关闭
		logError(c.srv.opts.Logger, "handle "+methodName, err)
		return
	}
	cancelFunc = nil // endRequest 或 shutdown 负责 cancel
	defer c.endRequest(key)

	result, outcome, err := c.srv.router.Dispatch(ctx, hdr.Method, payload)
	if outcome == NoHandler {
		// 未注册的 method:回 unknown-method 错误,而不是悄悄丢弃
		unknownMethods.Inc()
		span.SetStatus(codes.Error, "unknown method")
		c.replyError(hdr, RcUnknownMethod, nil)
		return
	}
	handledRequests.Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var appErr *ApplicationError
		if !errors.As(err, &appErr) {
			appErr = &ApplicationError{Message: err.Error()}
		}
		c.replyError(hdr, RcNotOk, encodeAppError(appErr))
		return
	}

	if err := c.reply(hdr, msgResponse, RcOk, result); err != nil {
		c.shutdown("skeleton write "+methodName, err)
	}
}

// runFireForget dispatches one fire-and-forget request. Nothing goes back
// on the wire; an unknown method is logged and dropped.
func (c *serverConn) runFireForget(hdr Header, tc []byte, payload []byte) {
	methodName := c.srv.router.Name(hdr.Method)

	ctx := context.Background()
	if sc := readTraceContext(tc); sc.IsValid() {
		var span trace.Span
		ctx, span = c.srv.opts.Tracer.Start(trace.ContextWithSpanContext(ctx, sc), methodName,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
	}

	if c.srv.router.DispatchFireForget(ctx, hdr.Method, payload) == NoHandler {
		unknownMethods.Inc()
		c.srv.opts.Logger.Debug("dropping fire-and-forget request without handler", "method", hdr.Method)
		return
	}
	handledRequests.Inc()
}

func requestKey(hdr Header) uint32 {
	return uint32(hdr.ClientID)<<16 | uint32(hdr.Session)
}

func (c *serverConn) startRequest(key uint32, cancelFunc func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("startRequest: %w", net.ErrClosed)
	}

	c.cancelFuncs[key] = cancelFunc

	return nil
}

func (c *serverConn) endRequest(key uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancelFunc, ok := c.cancelFuncs[key]; ok {
		delete(c.cancelFuncs, key)
		cancelFunc()
	}
}

// shutdown closes the connection and cancels every in-flight handler.
func (c *serverConn) shutdown(details string, err error) {
	_ = c.c.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		logError(c.srv.opts.Logger, "shutdown: "+details, err)
	}

	for key, cf := range c.cancelFuncs {
		cf()
		delete(c.cancelFuncs, key)
	}
}
