// Package tracing provides OpenTelemetry helpers for REST request monitoring.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	RouteKey     = "nuclos.route"
	MethodKey    = "nuclos.http.method"
	StatusKey    = "nuclos.http.status"
	RequestIDKey = "nuclos.request.id"
	BoMetaIDKey  = "nuclos.bo.meta_id"
	BoIDKey      = "nuclos.bo.id"
)

const tracerName = "github.com/saierd/go-nuclos"

// Tracer returns a tracer from the globally registered provider. The
// embedding application decides whether and where spans are exported.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}
