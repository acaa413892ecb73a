package someipc

import (
	"github.com/kanengo/someipc/internal/net/ipc"
)

// ServiceIdentity names one service instance at one interface major version.
type ServiceIdentity = ipc.ServiceIdentity

// MethodID identifies a method or an event within a service interface.
type MethodID = ipc.MethodID

// Completion is the resolvable handle for an in-flight request.
type Completion = ipc.Completion

// NotificationHandler receives event payloads on a subscribed proxy.
type NotificationHandler = ipc.NotificationHandler

// ProtocolError reports a non-OK return code sent by the remote peer.
type ProtocolError = ipc.ProtocolError

// ApplicationError is a handler defined failure carried back to the caller.
type ApplicationError = ipc.ApplicationError

// ReturnCode is the wire level status byte of a response.
type ReturnCode = ipc.ReturnCode

type Endpoint = ipc.Endpoint

type Resolver = ipc.Resolver

var (
	// ErrNotOffered is returned when the target service is not currently
	// offered, either locally or as seen by the proxy.
	ErrNotOffered error = ipc.ErrNotOffered

	// ErrSessionInUse is returned when the session id space wrapped onto a
	// still pending request.
	ErrSessionInUse error = ipc.ErrSessionInUse

	// CommunicationError resolves requests that were in flight when their
	// connection went down.
	CommunicationError error = ipc.CommunicationError
)

// TCP returns an endpoint dialing a tcp address.
func TCP(address string) Endpoint { return ipc.TCP(address) }

// Unix returns an endpoint dialing a unix domain socket path.
func Unix(address string) Endpoint { return ipc.Unix(address) }

// ParseEndpoint parses "tcp://addr" or "unix://path" into an endpoint.
func ParseEndpoint(endpoint string) (Endpoint, error) {
	return ipc.ParseNetEndpoint(endpoint)
}

// ConstantResolver returns a resolver that always yields the given endpoints.
func ConstantResolver(endpoints ...Endpoint) Resolver {
	return ipc.NewConstantResolver(endpoints...)
}
