package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/redhat-et/card-broker"

// Span attribute keys for the broker domain. None of them carry credentials.
var (
	AttrGrantMode     = attribute.Key("broker.grant.mode")
	AttrTokenEndpoint = attribute.Key("broker.token.endpoint")
	AttrTokenCached   = attribute.Key("broker.token.cached")
	AttrAssertionID   = attribute.Key("broker.assertion.jti")
	AttrResource      = attribute.Key("broker.resource")
	AttrUpstreamURL   = attribute.Key("broker.upstream.url")
	AttrUpstreamCode  = attribute.Key("broker.upstream.status")
	AttrFailureKind   = attribute.Key("broker.failure.kind")
	AttrRequestState  = attribute.Key("broker.request.state")
)

// Tracer returns the project-wide OTel tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan creates a new span with the given name and optional attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// SetSpanError records an error on the span and sets its status to Error.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to OK.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
