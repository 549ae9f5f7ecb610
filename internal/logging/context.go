// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	requestIDKey     contextKey = "request_id"
	sourceKey        contextKey = "source"
	jobIDKey         contextKey = "job_id"
)

// GenerateCorrelationID creates a new correlation ID.
// Returns the first 8 characters of a UUID for readability.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a new context with the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID returns a context with a newly generated correlation ID.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext retrieves the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns a new context with the given HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRun tags the context with the source and import job of an
// ingestion run so that every log line of that run carries both.
func ContextWithRun(ctx context.Context, source, jobID string) context.Context {
	ctx = context.WithValue(ctx, sourceKey, source)
	return context.WithValue(ctx, jobIDKey, jobID)
}

// Ctx returns a logger with the context values (correlation_id, request_id,
// source, job_id) added when present.
//
//	logging.Ctx(ctx).Info().Msg("Processing batch")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := Logger().With()

	if v := CorrelationIDFromContext(ctx); v != "" {
		logCtx = logCtx.Str("correlation_id", v)
	}
	if v := RequestIDFromContext(ctx); v != "" {
		logCtx = logCtx.Str("request_id", v)
	}
	if v, ok := ctx.Value(sourceKey).(string); ok && v != "" {
		logCtx = logCtx.Str("source", v)
	}
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		logCtx = logCtx.Str("job_id", v)
	}

	logger := logCtx.Logger()
	return &logger
}
