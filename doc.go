// Package someipc implements a SOME/IP flavored inter-process RPC binding:
// proxies issue method requests correlated by per-connection session ids,
// skeletons route requests to registered handlers and fan events out to
// subscribed connections, and service availability is gated by an explicit
// offer lifecycle.
//
// The package exposes two entry points. A Skeleton serves one service
// identity on a listener; a Proxy dials one service identity, either at a
// fixed endpoint or through etcd based discovery, and survives reconnects.
package someipc
