// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanpath/numtracker/pkg/logging"
	"github.com/scanpath/numtracker/services/tracker/allocator"
	"github.com/scanpath/numtracker/services/tracker/graphql"
	"github.com/scanpath/numtracker/services/tracker/middleware"
	"github.com/scanpath/numtracker/services/tracker/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func strptr(s string) *string { return &s }

func testRouter(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	s, err := store.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	alloc := allocator.New(s, t.TempDir(), log, nil)
	resolver := graphql.NewResolver(s, alloc, middleware.Authorizer{}, log, nil)

	router := New(Options{
		Schema:      graphql.NewSchema(resolver),
		Log:         log,
		ServiceName: "numtracker",
		Version:     "test",
	})
	return router, s
}

func seedInstrument(t *testing.T, s *store.Store) {
	t.Helper()
	_, err := s.Upsert(context.Background(), "i22", store.Update{
		Directory: strptr("/data/{instrument}/data/{year}/{visit}"),
		Scan:      strptr("{subdirectory}/{instrument}-{scan_number}"),
		Detector:  strptr("{subdirectory}/{instrument}-{scan_number}-{detector}"),
	})
	require.NoError(t, err)
}

func TestGraphQL_Post(t *testing.T) {
	router, s := testRouter(t)
	seedInstrument(t, s)

	body := `{"query": "{ paths(instrument: \"i22\", visit: \"cm12345-6\") { directory } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Paths struct {
				Directory string `json:"directory"`
			} `json:"paths"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	year := strconv.Itoa(time.Now().Year())
	assert.Equal(t, "/data/i22/data/"+year+"/cm12345-6", resp.Data.Paths.Directory)
}

func TestGraphQL_GetRejected(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
}

func TestGraphiQL(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/graphiql", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "GraphiQL")
}

func TestStatus(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "numtracker", status["service"])
	assert.Equal(t, "test", status["version"])
	assert.Equal(t, "ok", status["status"])
}

func TestMetrics(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRequestIDPropagated(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(middleware.RequestIDHeader, "client-supplied")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "client-supplied", w.Header().Get(middleware.RequestIDHeader))
}

func TestGraphQL_Mutation(t *testing.T) {
	router, s := testRouter(t)
	seedInstrument(t, s)

	body := `{"query": "mutation { scan(instrument: \"i22\", visit: \"cm12345-6\") { scanNumber scanFile } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Scan struct {
				ScanNumber int    `json:"scanNumber"`
				ScanFile   string `json:"scanFile"`
			} `json:"scan"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Scan.ScanNumber)
	// no subdirectory: the empty segment keeps its leading slash
	assert.Equal(t, "/i22-1", resp.Data.Scan.ScanFile)
}
