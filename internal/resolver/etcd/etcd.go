// Package etcd resolves offered service instances through etcd: skeletons
// publish offer records under a per-identity key prefix and proxies watch
// that prefix for changes.
package etcd

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kanengo/someipc/internal/discovery"
	"github.com/kanengo/someipc/internal/net/ipc"
	"github.com/kanengo/someipc/internal/unsafex"
	"github.com/kanengo/someipc/runtime/logging"
)

const getTimeout = 3 * time.Second

// Resolver resolves the endpoints of one service identity from etcd.
type Resolver struct {
	cli    *clientv3.Client
	ident  ipc.ServiceIdentity
	logger *slog.Logger
}

var _ ipc.Resolver = (*Resolver)(nil)

func NewResolver(cli *clientv3.Client, ident ipc.ServiceIdentity, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.StderrLogger(logging.Options{Component: "resolver.etcd"})
	}
	return &Resolver{cli: cli, ident: ident, logger: logger}
}

func (r *Resolver) IsConstant() bool {
	return false
}

// Resolve lists the current offer records. With a previous version it first
// blocks until the key range changes past that version.
func (r *Resolver) Resolve(ctx context.Context, version *ipc.Version) ([]ipc.Endpoint, *ipc.Version, error) {
	prefix := discovery.KeyPrefix(r.ident)

	if version != nil && version.Opaque != "" {
		if rev, err := strconv.ParseInt(version.Opaque, 10, 64); err == nil {
			wch := r.cli.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case _, ok := <-wch:
				if !ok {
					return nil, nil, ctx.Err()
				}
			}
		}
	}

	getCtx, cancel := context.WithTimeout(ctx, getTimeout)
	resp, err := r.cli.Get(getCtx, prefix, clientv3.WithPrefix())
	cancel()
	if err != nil {
		return nil, nil, err
	}

	endpoints := make([]ipc.Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		rec, err := discovery.DecodeOfferRecord(unsafex.BytesToString(kv.Value))
		if err != nil {
			r.logger.Warn("skipping undecodable offer record", "key", string(kv.Key), "err", err)
			continue
		}
		ep, err := ipc.ParseNetEndpoint(rec.Addr)
		if err != nil {
			r.logger.Warn("skipping offer record with bad address", "addr", rec.Addr, "err", err)
			continue
		}
		endpoints = append(endpoints, ep)
	}

	v := &ipc.Version{Opaque: strconv.FormatInt(resp.Header.Revision, 10)}

	return endpoints, v, nil
}

// Publisher writes and withdraws the offer records of a skeleton.
type Publisher struct {
	cli *clientv3.Client
}

func NewPublisher(cli *clientv3.Client) *Publisher {
	return &Publisher{cli: cli}
}

// PublishOffer stores the record under its identity/token key.
func (p *Publisher) PublishOffer(ctx context.Context, rec *discovery.OfferRecord) error {
	val, err := rec.Encode()
	if err != nil {
		return err
	}

	_, err = p.cli.Put(ctx, discovery.Key(rec.Ident, rec.Token), val)
	return err
}

// WithdrawOffer deletes the record published for ident/token.
func (p *Publisher) WithdrawOffer(ctx context.Context, ident ipc.ServiceIdentity, token string) error {
	_, err := p.cli.Delete(ctx, discovery.Key(ident, token))
	return err
}
