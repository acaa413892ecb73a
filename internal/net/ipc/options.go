package ipc

import (
	"log/slog"
	"time"

	"github.com/kanengo/someipc/runtime/logging"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultWriteFlattenLimit     = 4 << 10
	defaultInlineHandlerDuration = 20 * time.Microsecond
)

type ClientOptions struct {
	Logger *slog.Logger
	Tracer trace.Tracer

	// ClientID tags every request issued through this proxy connection.
	ClientID uint16

	// SessionLimit bounds the session id space; 0 selects the default.
	SessionLimit uint32

	// OptimisticSpinDuration 自旋等待结果返回的时间
	OptimisticSpinDuration time.Duration

	// 所有小于这个限制的写入数据,都会被压成一个 buffer 再发送
	// 如果为0，会选一个合适的值
	WriteFlattenLimit int
}

func (c ClientOptions) withDefaults() ClientOptions {
	if c.Logger == nil {
		c.Logger = logging.StderrLogger(logging.Options{})
	}

	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("someipc")
	}

	if c.WriteFlattenLimit == 0 {
		c.WriteFlattenLimit = defaultWriteFlattenLimit
	}

	return c
}

type ServerOptions struct {
	Logger *slog.Logger
	Tracer trace.Tracer

	// MaxConnections bounds concurrently served connections; 0 means no limit.
	MaxConnections int

	// InlineHandlerDuration is how long a handler may run on the read
	// goroutine before another goroutine takes over reading.
	InlineHandlerDuration time.Duration

	WriteFlattenLimit int
}

func (s ServerOptions) withDefaults() ServerOptions {
	if s.Logger == nil {
		s.Logger = logging.StderrLogger(logging.Options{})
	}

	if s.Tracer == nil {
		s.Tracer = noop.NewTracerProvider().Tracer("someipc")
	}

	if s.InlineHandlerDuration == 0 {
		s.InlineHandlerDuration = defaultInlineHandlerDuration
	}

	if s.WriteFlattenLimit == 0 {
		s.WriteFlattenLimit = defaultWriteFlattenLimit
	}

	return s
}
