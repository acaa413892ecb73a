package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

type Options struct {
	App        string
	Deployment string
	Component  string

	Attrs []slog.Attr
}

type LogHandler struct {
	opts Options
	*slog.JSONHandler
}

// NewLogHandler returns a JSON slog handler enriched with the binding's
// app/deployment/component attributes and a short source location.
func NewLogHandler(w io.Writer, opts Options, level slog.Leveler) *LogHandler {
	h := &LogHandler{
		opts: opts,
		JSONHandler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 {
					if a.Key == slog.TimeKey {
						a.Value = slog.StringValue(a.Value.Time().Format(time.DateTime))
						return a
					}
				}

				return a
			},
		}),
	}

	if opts.App != "" {
		h.opts.Attrs = append(h.opts.Attrs, slog.String("app", opts.App))
	}

	if opts.Component != "" {
		h.opts.Attrs = append(h.opts.Attrs, slog.String("component", opts.Component))
	}

	if opts.Deployment != "" {
		h.opts.Attrs = append(h.opts.Attrs, slog.String("deployment", opts.Deployment))
	}

	return h
}

var _ slog.Handler = (*LogHandler)(nil)

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.JSONHandler.Enabled(ctx, level)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.opts.Attrs = append(c.opts.Attrs, attrs...)
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	fs := runtime.CallersFrames([]uintptr{r.PC})
	if fs != nil {
		f, _ := fs.Next()
		r.AddAttrs(slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", f.File, f.Line)))
	}
	if len(h.opts.Attrs) > 0 {
		r.AddAttrs(h.opts.Attrs...)
	}
	return h.JSONHandler.Handle(ctx, r)
}

// StderrLogger returns a logger writing JSON records to stderr.
func StderrLogger(opts Options) *slog.Logger {
	return slog.New(NewLogHandler(os.Stderr, opts, slog.LevelDebug))
}

// ShortenComponent compresses a dotted component path to its final segments,
// e.g. "speedlimit.frontend.Monitor" becomes "frontend.Monitor".
func ShortenComponent(component string) string {
	parts := strings.Split(component, ".")
	switch len(parts) {
	case 0:
		return "nil"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[len(parts)-2:], ".")
	}
}
