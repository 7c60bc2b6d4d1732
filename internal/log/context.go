// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

// correlation is what a context carries for log enrichment. A transfer
// started from an HTTP request keeps the request ID next to its own IDs.
type correlation struct {
	requestID  string
	downloadID string
	sessionID  string
}

type correlationKey struct{}

func correlationFrom(ctx context.Context) correlation {
	if ctx == nil {
		return correlation{}
	}
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func withCorrelation(ctx context.Context, update func(*correlation)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := correlationFrom(ctx)
	update(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// ContextWithRequestID stores the HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.requestID = id })
}

// ContextWithTransfer marks ctx as belonging to one transfer session.
func ContextWithTransfer(ctx context.Context, downloadID, sessionID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) {
		c.downloadID = downloadID
		c.sessionID = sessionID
	})
}

func RequestIDFromContext(ctx context.Context) string {
	return correlationFrom(ctx).requestID
}

// TransferFromContext returns the download and session IDs, if any.
func TransferFromContext(ctx context.Context) (downloadID, sessionID string) {
	c := correlationFrom(ctx)
	return c.downloadID, c.sessionID
}

// WithContext adds the correlation fields found in ctx to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	c := correlationFrom(ctx)
	if c == (correlation{}) {
		return logger
	}
	b := logger.With()
	if c.requestID != "" {
		b = b.Str(FieldRequestID, c.requestID)
	}
	if c.downloadID != "" {
		b = b.Str(FieldDownloadID, c.downloadID)
	}
	if c.sessionID != "" {
		b = b.Str(FieldSessionID, c.sessionID)
	}
	return b.Logger()
}

// WithComponentFromContext is WithContext applied to a component logger.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
