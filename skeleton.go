package someipc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kanengo/someipc/internal/discovery"
	"github.com/kanengo/someipc/internal/net/ipc"
	etcdresolver "github.com/kanengo/someipc/internal/resolver/etcd"
)

// SkeletonOptions configures a served skeleton.
type SkeletonOptions struct {
	ipc.ServerOptions

	// Discovery, when set, publishes an offer record to etcd on
	// StartOffering and withdraws it on StopOffering.
	Discovery *clientv3.Client
}

// MethodFunc handles a request and returns the response payload.
type MethodFunc = ipc.MethodRequestHandlerFunc

// FireForgetFunc handles a request that expects no response.
type FireForgetFunc = ipc.FireForgetHandlerFunc

// Skeleton is the serving side of a service: it routes incoming requests to
// registered methods, tracks event subscribers per connection, and controls
// service availability through the offer lifecycle.
type Skeleton struct {
	srv   *ipc.Server
	ident ServiceIdentity

	publisher *etcdresolver.Publisher

	mu    sync.Mutex
	addr  string // listener address once Serve started
	token string // discovery record token while published
}

// NewSkeleton returns a skeleton for one service identity. It starts in the
// not-offered state; requests are rejected until StartOffering.
func NewSkeleton(ident ServiceIdentity, opts SkeletonOptions) *Skeleton {
	s := &Skeleton{
		srv:   ipc.NewServer(ident, opts.ServerOptions),
		ident: ident,
	}
	if opts.Discovery != nil {
		s.publisher = etcdresolver.NewPublisher(opts.Discovery)
	}
	return s
}

// Handle registers a request handler. Registration must finish before Serve;
// duplicate ids panic.
func (s *Skeleton) Handle(id MethodID, name string, fn MethodFunc) {
	s.srv.Router().Register(id, name, fn)
}

// HandleFireForget registers a handler for requests without responses.
func (s *Skeleton) HandleFireForget(id MethodID, name string, fn FireForgetFunc) {
	s.srv.Router().RegisterFireForget(id, name, fn)
}

// Serve accepts and serves connections on l until ctx is done or l fails.
func (s *Skeleton) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.addr = l.Addr().Network() + "://" + l.Addr().String()
	s.mu.Unlock()
	return s.srv.Serve(ctx, l)
}

// ServeConn serves a single pre-established connection, for in-process and
// pipe transports.
func (s *Skeleton) ServeConn(ctx context.Context, conn net.Conn) {
	s.srv.ServeConn(ctx, conn)
}

// StartOffering marks the service available, announces the offer to every
// live connection, and publishes a discovery record when configured.
func (s *Skeleton) StartOffering(ctx context.Context) error {
	s.srv.StartOffering()
	if s.publisher == nil {
		return nil
	}

	s.mu.Lock()
	addr := s.addr
	if s.token == "" {
		s.token = gonanoid.Must(16)
	}
	token := s.token
	s.mu.Unlock()

	if addr == "" {
		return fmt.Errorf("start offering: not serving yet, no address to publish")
	}

	rec := &discovery.OfferRecord{
		Ident:         s.ident,
		Addr:          addr,
		Token:         token,
		OfferedAtUnix: time.Now().Unix(),
	}
	return s.publisher.PublishOffer(ctx, rec)
}

// StopOffering marks the service unavailable, announces the stop to every
// live connection, clears all subscriptions, and withdraws the discovery
// record when one was published.
func (s *Skeleton) StopOffering(ctx context.Context) error {
	s.srv.StopOffering()
	if s.publisher == nil {
		return nil
	}

	s.mu.Lock()
	token := s.token
	s.token = ""
	s.mu.Unlock()

	if token == "" {
		return nil
	}
	return s.publisher.WithdrawOffer(ctx, s.ident, token)
}

// IsOffered reports whether the service is currently offered.
func (s *Skeleton) IsOffered() bool {
	return s.srv.IsOffered()
}

// Notify sends an event payload to every subscribed connection. It fails
// when the service is not offered.
func (s *Skeleton) Notify(event MethodID, payload []byte) error {
	return s.srv.Notify(event, payload)
}

// Subscribers reports the number of connections subscribed to events.
func (s *Skeleton) Subscribers() int {
	return s.srv.Subscribers().Len()
}
