package someipc

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kanengo/someipc/internal/net/ipc"
	etcdresolver "github.com/kanengo/someipc/internal/resolver/etcd"
)

// ProxyOptions configures a dialed proxy.
type ProxyOptions = ipc.ClientOptions

// Proxy is the client side of a service: it issues requests, fire and
// forget calls, and event subscriptions against one remote service
// identity over a self-healing connection.
type Proxy struct {
	conn *ipc.ProxyConn
}

// Dial connects to a service at a fixed endpoint such as
// "tcp://127.0.0.1:7000" or "unix:///tmp/someipc.sock".
func Dial(ctx context.Context, ident ServiceIdentity, endpoint string, opts ProxyOptions) (*Proxy, error) {
	ep, err := ipc.ParseNetEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return DialResolver(ctx, ident, ipc.NewConstantResolver(ep), opts)
}

// DialResolver connects to a service through the given resolver.
func DialResolver(ctx context.Context, ident ServiceIdentity, resolver Resolver, opts ProxyOptions) (*Proxy, error) {
	conn, err := ipc.DialProxy(ctx, ident, resolver, opts)
	if err != nil {
		return nil, err
	}
	return &Proxy{conn: conn}, nil
}

// DialDiscovered connects to a service located through etcd offer records.
func DialDiscovered(ctx context.Context, ident ServiceIdentity, cli *clientv3.Client, opts ProxyOptions) (*Proxy, error) {
	return DialResolver(ctx, ident, etcdresolver.NewResolver(cli, ident, opts.Logger), opts)
}

// Call sends a request and blocks until the response, an error, or ctx
// cancellation.
func (p *Proxy) Call(ctx context.Context, method MethodID, payload []byte) ([]byte, error) {
	return p.conn.Invoke(ctx, method, payload)
}

// CallAsync sends a request and returns its completion without waiting.
func (p *Proxy) CallAsync(ctx context.Context, method MethodID, payload []byte) *Completion {
	return p.conn.Request(ctx, method, payload)
}

// FireAndForget sends a request that expects no response. Errors report
// only local send failures.
func (p *Proxy) FireAndForget(ctx context.Context, method MethodID, payload []byte) error {
	return p.conn.RequestNoReturn(ctx, method, payload)
}

// Subscribe registers fn for an event and announces the subscription to the
// remote service. The subscription is re-announced after reconnects.
func (p *Proxy) Subscribe(event MethodID, fn NotificationHandler) error {
	return p.conn.Subscribe(event, fn)
}

// Unsubscribe withdraws an event subscription.
func (p *Proxy) Unsubscribe(event MethodID) error {
	return p.conn.Unsubscribe(event)
}

// Up reports whether the remote service is currently offered.
func (p *Proxy) Up() bool {
	return p.conn.ServiceUp()
}

// Pending reports the number of requests awaiting a response.
func (p *Proxy) Pending() int {
	return p.conn.PendingLen()
}

// Close tears the connection down and fails all pending requests.
func (p *Proxy) Close() {
	p.conn.Close()
}
