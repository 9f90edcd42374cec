package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}

// SetFailure marks span as failed from stage error messages without an error value.
func SetFailure(span trace.Span, description string, attrs ...attribute.KeyValue) {
	span.SetStatus(codes.Error, description)
	span.AddEvent("stage_failed", trace.WithAttributes(
		append(attrs, attribute.String("description", description))...,
	))
}
