package obs

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 300

// PGXTracer opens a client span for every statement run through pgx.
// A nil Provider uses the global tracer provider.
type PGXTracer struct {
	Provider trace.TracerProvider
}

// TraceQueryStart implements pgx.QueryTracer.
func (t PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	provider := t.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	stmt := strings.TrimSpace(data.SQL)
	op := sqlOperation(stmt)
	ctx, span := provider.Tracer("github.com/noah-isme/backend-rewards/db").
		Start(ctx, "db "+op, trace.WithSpanKind(trace.SpanKindClient))
	if len(stmt) > maxStatementLen {
		stmt = stmt[:maxStatementLen] + "..."
	}
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.statement", stmt),
		attribute.Int("db.args", len(data.Args)),
	)
	return ctx
}

// TraceQueryEnd implements pgx.QueryTracer. pgx.ErrNoRows is not a span error.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	switch {
	case data.Err == nil:
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	case errors.Is(data.Err, pgx.ErrNoRows):
	default:
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}
	span.End()
}

func sqlOperation(stmt string) string {
	if fields := strings.Fields(stmt); len(fields) > 0 {
		return strings.ToUpper(fields[0])
	}
	return "QUERY"
}
