// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pathParam = regexp.MustCompile(`\{[^}]+\}`)

func TestOpenAPIDocumentIsValid(t *testing.T) {
	doc, err := OpenAPI()
	require.NoError(t, err)
	require.NotNil(t, doc.Paths)

	seen := map[string]bool{}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			require.NotEmpty(t, op.OperationID, "%s %s has no operationId", method, path)
			require.False(t, seen[op.OperationID], "duplicate operationId %s", op.OperationID)
			seen[op.OperationID] = true
		}
	}
}

// Every documented operation must resolve to a handler, and every handler
// must be documented.
func TestRouterParity(t *testing.T) {
	doc, err := OpenAPI()
	require.NoError(t, err)
	h := newHarness(t, Options{Heartbeat: time.Hour})

	documented := map[string]bool{}
	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			documented[method+" "+pathParam.ReplaceAllString(path, "{id}")] = true
			target := pathParam.ReplaceAllString(path, "parity")
			req := httptest.NewRequest(method, target, nil)
			if path == "/api/events" {
				// The stream returns once the request context is done.
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				req = req.WithContext(ctx)
			}
			rr := httptest.NewRecorder()
			h.server.Handler().ServeHTTP(rr, req)
			assert.NotEqual(t, http.StatusMethodNotAllowed, rr.Code, "%s %s", method, path)
			if rr.Code == http.StatusNotFound {
				var p Problem
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
				assert.NotEqual(t, "No such endpoint.", p.Message, "%s %s is documented but not routed", method, path)
			}
		}
	}

	var routed []string
	err = chi.Walk(h.server.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimSuffix(route, "/")
		if route == "" {
			route = "/"
		}
		routed = append(routed, method+" "+route)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(routed)
	for _, r := range routed {
		assert.True(t, documented[r], "%s is routed but not documented", r)
	}
}

func TestOpenAPIServed(t *testing.T) {
	h := newHarness(t, Options{})
	rr := h.do(t, http.MethodGet, "/api/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

}
