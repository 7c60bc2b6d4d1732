// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldProgramID  = "program_id"
	FieldDownloadID = "download_id"
	FieldSessionID  = "session_id"
	FieldTimerID    = "timer_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOperation = "operation"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"

	// Transfer fields
	FieldBytes    = "bytes"
	FieldFraction = "fraction"
)
