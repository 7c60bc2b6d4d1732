// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openAPISpec []byte

var (
	openAPIOnce sync.Once
	openAPIDoc  *openapi3.T
	openAPIJSON []byte
	openAPIErr  error
)

// OpenAPI loads and validates the embedded document once.
func OpenAPI() (*openapi3.T, error) {
	openAPIOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(openAPISpec)
		if err != nil {
			openAPIErr = fmt.Errorf("load openapi: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			openAPIErr = fmt.Errorf("validate openapi: %w", err)
			return
		}
		js, err := doc.MarshalJSON()
		if err != nil {
			openAPIErr = fmt.Errorf("encode openapi: %w", err)
			return
		}
		openAPIDoc, openAPIJSON = doc, js
	})
	return openAPIDoc, openAPIErr
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	if _, err := OpenAPI(); err != nil {
		writeProblem(w, http.StatusInternalServerError, "internal", "The API document is invalid.")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIJSON)
}
