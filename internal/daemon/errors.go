// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

// Construction and lifecycle errors. They are returned before any listener
// is bound, except ErrManagerNotStarted.
var (
	ErrMissingLogger     = errors.New("daemon: a configured logger is required")
	ErrMissingAPIHandler = errors.New("daemon: the control API handler is required")
	ErrMissingManager    = errors.New("daemon: app needs a server manager")
	ErrManagerNotStarted = errors.New("daemon: shutdown before start")
)
