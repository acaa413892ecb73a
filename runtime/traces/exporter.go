package traces

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter is an otel SpanExporter that flattens finished spans into the
// local trace DB.
type Exporter struct {
	app string
	db  *DB
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

func NewExporter(app string, db *DB) *Exporter {
	return &Exporter{app: app, db: db}
}

func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	rows := make([]SpanRow, len(spans))
	for i, span := range spans {
		rows[i] = toRow(e.app, span)
	}

	return e.db.Store(ctx, rows)
}

func (e *Exporter) Shutdown(ctx context.Context) error {
	return nil
}

func toRow(app string, span sdktrace.ReadOnlySpan) SpanRow {
	row := SpanRow{
		TraceID:      span.SpanContext().TraceID(),
		SpanID:       span.SpanContext().SpanID(),
		ParentSpanID: span.Parent().SpanID(),
		App:          app,
		Name:         span.Name(),
		Kind:         span.SpanKind().String(),
		StartMicros:  span.StartTime().UnixMicro(),
		EndMicros:    span.EndTime().UnixMicro(),
		Status:       spanStatus(span),
	}

	attrs := make(map[string]any, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if encoded, err := json.Marshal(attrs); err == nil {
		row.Attributes = string(encoded)
	}

	return row
}

// spanStatus returns the span status string. It returns "" if the status is OK.
func spanStatus(span sdktrace.ReadOnlySpan) string {
	st := span.Status()
	if st.Code == codes.Error {
		if st.Description != "" {
			return st.Description
		}
		return "unknown error"
	}

	return ""
}
