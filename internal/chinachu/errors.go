// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chinachu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

var (
	// ErrConnection covers transport failures: DNS, refused connections, TLS, timeouts.
	ErrConnection = errors.New("chinachu: connection error")
	// ErrRequest means the request could not be built (bad base URL, bad parameters).
	ErrRequest = errors.New("chinachu: request error")
	// ErrResponse covers non-2xx statuses and bodies that cannot be decoded.
	ErrResponse = errors.New("chinachu: response error")

	// Refinements of ErrResponse for errors.Is checks at the boundary.
	ErrNotFound     = errors.New("chinachu: resource not found")
	ErrUnauthorized = errors.New("chinachu: unauthorized")
)

// ResponseError is returned for any non-2xx answer. It unwraps to ErrResponse
// and, where the status allows, to ErrNotFound or ErrUnauthorized.
type ResponseError struct {
	Operation string
	Status    int
	Body      string
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("chinachu: %s: HTTP %d", e.Operation, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *ResponseError) Unwrap() []error {
	switch e.Status {
	case http.StatusNotFound:
		return []error{ErrNotFound, ErrResponse}
	case http.StatusUnauthorized, http.StatusForbidden:
		return []error{ErrUnauthorized, ErrResponse}
	default:
		return []error{ErrResponse}
	}
}

const maxErrorBody = 256

var secretPattern = regexp.MustCompile(`(?i)(password|passwd|token|secret)=([^&\s"]+)`)

func newResponseError(operation string, status int, body []byte) *ResponseError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return &ResponseError{
		Operation: operation,
		Status:    status,
		Body:      secretPattern.ReplaceAllString(b, "$1=[REDACTED]"),
	}
}

func connectionError(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnection, operation, err)
}

func requestError(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRequest, operation, err)
}

func decodeError(operation string, err error) error {
	return fmt.Errorf("%w: %s: decode: %w", ErrResponse, operation, err)
}

// Message maps an error returned by this package to the text shown to the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var respErr *ResponseError
	switch {
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, ErrUnauthorized):
		return "Authentication failed. Check the username and password."
	case errors.Is(err, ErrNotFound):
		return "The requested item no longer exists on the server."
	case errors.As(err, &respErr):
		return fmt.Sprintf("The server returned an error (HTTP %d).", respErr.Status)
	case errors.Is(err, ErrResponse):
		return "The server sent a response that could not be read."
	case errors.Is(err, ErrConnection):
		return "Could not connect to the server. Check the address and the network connection."
	case errors.Is(err, ErrRequest):
		return "The request could not be created. Check the server address."
	default:
		return err.Error()
	}
}
