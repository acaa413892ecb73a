package ipc

import (
	"fmt"

	"github.com/kanengo/someipc/runtime/codec"
)

type transportError int

const (
	// CommunicationError reports that a live connection failed mid-request.
	CommunicationError transportError = iota
	// Unreachable reports that no connection to the service exists.
	Unreachable
	// ErrNotOffered reports that the service instance is not offered; the
	// request was rejected before touching the wire.
	ErrNotOffered
	// ErrSessionInUse reports a session id collision in the pending table.
	// With a correctly bounded number of in-flight requests this does not
	// happen; it fails just the colliding request, not the process.
	ErrSessionInUse
)

func (e transportError) Error() string {
	switch e {
	case CommunicationError:
		return "communication error"
	case Unreachable:
		return "unreachable"
	case ErrNotOffered:
		return "service not available"
	case ErrSessionInUse:
		return "network binding failure: session id in use"
	default:
		return fmt.Sprintf("unknown error %d", e)
	}
}

// ProtocolError is the client-side surfacing of a non-ok wire return code.
type ProtocolError struct {
	Return ReturnCode
}

func (e *ProtocolError) Error() string {
	switch e.Return {
	case RcUnknownService:
		return "protocol error: unknown service"
	case RcUnknownMethod:
		return "protocol error: unknown method"
	case RcNotReady:
		return "protocol error: service not ready"
	case RcNotReachable:
		return "protocol error: service not reachable"
	case RcWrongProtocolVersion:
		return "protocol error: wrong protocol version"
	case RcWrongInterfaceVersion:
		return "protocol error: wrong interface version"
	case RcMalformedMessage:
		return "protocol error: malformed message"
	case RcWrongMessageType:
		return "protocol error: wrong message type"
	default:
		return fmt.Sprintf("protocol error: return code 0x%02x", uint8(e.Return))
	}
}

// ApplicationError is a domain-level error produced by the remote method
// implementation, distinct from transport and protocol failures.
type ApplicationError struct {
	Code    uint32
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("application error %d", e.Code)
	}
	return fmt.Sprintf("application error %d: %s", e.Code, e.Message)
}

// encodeAppError encodes an application error as an error-message payload.
func encodeAppError(e *ApplicationError) []byte {
	s := codec.NewSerializer(8 + len(e.Message))
	s.Uint32(e.Code)
	s.String(e.Message)

	return s.Data()
}

// decodeAppError decodes an error-message payload.
func decodeAppError(msg []byte) (appErr *ApplicationError, err error) {
	defer func() {
		if x := codec.CatchPanics(recover()); x != nil {
			err = x
		}
	}()

	d := codec.NewDeserializer(msg)
	appErr = &ApplicationError{
		Code:    d.Uint32(),
		Message: d.String(),
	}

	return
}
