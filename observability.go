package someipc

import (
	"context"
	"log/slog"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kanengo/someipc/runtime/logging"
	"github.com/kanengo/someipc/runtime/traces"
)

// NewLogger returns a JSON logger for one component, at the configured
// level.
func NewLogger(app, component string, cfg *Config) *slog.Logger {
	var level slog.Level
	if cfg != nil {
		level = cfg.Level()
	}
	h := logging.NewLogHandler(os.Stderr, logging.Options{
		App:       app,
		Component: logging.ShortenComponent(component),
	}, level)

	return slog.New(h)
}

// NewTracerProvider returns a tracer provider exporting spans to the sqlite
// file named by cfg.TraceDB, and a shutdown function flushing it. Without a
// configured trace_db it returns a no-op provider.
func NewTracerProvider(ctx context.Context, app string, cfg *Config) (trace.TracerProvider, func(context.Context) error, error) {
	if cfg == nil || cfg.TraceDB == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	db, err := traces.OpenDB(ctx, cfg.TraceDB)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traces.NewExporter(app, db)),
	)
	shutdown := func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := db.Close(); err == nil {
			err = cerr
		}
		return err
	}

	return tp, shutdown, nil
}
