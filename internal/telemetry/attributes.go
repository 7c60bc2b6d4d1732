// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	ProgramIDKey  = "harekaze.program_id"
	CollectionKey = "harekaze.collection"

	TransferBytesKey   = "transfer.bytes"
	TransferOutcomeKey = "transfer.outcome"

	SyncUpsertedKey = "sync.upserted"
	SyncDeletedKey  = "sync.deleted"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// TransferAttributes describes a finished transfer.
func TransferAttributes(programID, outcome string, bytes int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProgramIDKey, programID),
		attribute.String(TransferOutcomeKey, outcome),
		attribute.Int64(TransferBytesKey, bytes),
	}
}

// SyncAttributes describes the diff applied by one collection sync.
func SyncAttributes(collection string, upserted, deleted int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CollectionKey, collection),
		attribute.Int(SyncUpsertedKey, upserted),
		attribute.Int(SyncDeletedKey, deleted),
	}
}
