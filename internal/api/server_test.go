// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/gamedrop/internal/api/swagger"
	"github.com/autobrr/gamedrop/internal/config"
	"github.com/autobrr/gamedrop/internal/database"
	"github.com/autobrr/gamedrop/internal/domain"
	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/debrid"
	"github.com/autobrr/gamedrop/internal/services/downloads"
	"github.com/autobrr/gamedrop/internal/services/indexers"
	"github.com/autobrr/gamedrop/internal/services/monitor"
	"github.com/autobrr/gamedrop/internal/services/search"
)

type routeKey struct {
	Method string
	Path   string
}

var undocumentedRoutes = map[routeKey]struct{}{}

func TestAllEndpointsDocumented(t *testing.T) {
	server := NewServer(newTestDependencies(t, ""))
	router, err := server.Handler()
	require.NoError(t, err)

	actualRoutes := collectRouterRoutes(t, router)
	documentedRoutes := loadDocumentedRoutes(t)

	undocumented := diffRoutes(actualRoutes, documentedRoutes)
	if len(undocumented) > 0 {
		t.Fatalf("found %d undocumented API endpoints:\n%s", len(undocumented), formatRoutes(undocumented))
	}

	missingHandlers := diffRoutes(documentedRoutes, actualRoutes)
	if len(missingHandlers) > 0 {
		t.Fatalf("found %d documented endpoints without handlers:\n%s", len(missingHandlers), formatRoutes(missingHandlers))
	}

	t.Logf("checked %d API routes registered in chi", len(actualRoutes))
	t.Logf("OpenAPI spec documents %d API routes", len(documentedRoutes))
}

func TestAPIKeyGuard(t *testing.T) {
	server := NewServer(newTestDependencies(t, "secret"))
	router, err := server.Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	tests := []struct {
		name   string
		path   string
		apiKey string
		want   int
	}{
		{name: "health is public", path: "/health", want: http.StatusOK},
		{name: "liveness is public", path: "/healthz/liveness", want: http.StatusOK},
		{name: "openapi is public", path: "/api/openapi.yaml", want: http.StatusOK},
		{name: "downloads without key", path: "/api/downloads", want: http.StatusUnauthorized},
		{name: "downloads with key", path: "/api/downloads", apiKey: "secret", want: http.StatusOK},
		{name: "providers with wrong key", path: "/api/providers", apiKey: "nope", want: http.StatusUnauthorized},
		{name: "search with key", path: "/api/search?q=celeste", apiKey: "secret", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+tt.path, nil)
			require.NoError(t, err)
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDownloadFlowOverHTTP(t *testing.T) {
	server := NewServer(newTestDependencies(t, ""))
	router, err := server.Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/downloads", "application/json", strings.NewReader(`{"title":"Celeste"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"created"`)

	resp, err = http.Post(srv.URL+"/api/downloads", "application/json", strings.NewReader(`{"title":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// stubResolver accepts every submission.
type stubResolver struct{}

func (stubResolver) Submit(_ context.Context, _ string) (string, error) { return "remote-1", nil }

func (stubResolver) PollStatus(_ context.Context, _ string) (debrid.Status, error) {
	return debrid.Status{Phase: debrid.PhaseTransferring}, nil
}

func (stubResolver) Cancel(_ context.Context, _ string) error { return nil }

func newTestDependencies(t *testing.T, apiKey string) *Dependencies {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	providerStore, err := models.NewProviderStore(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	downloadStore := models.NewDownloadStore(models.NewKVStore(db))

	aggregator, err := search.NewAggregator(search.AggregatorConfig{
		Source: search.StaticProviders(indexers.Provider{Adapter: indexers.NewSimulated("simulated")}),
	})
	require.NoError(t, err)

	mon := monitor.NewService(monitor.DefaultConfig(), downloadStore, stubResolver{}, nil, nil, nil, nil)

	return &Dependencies{
		Config: &config.AppConfig{
			Config: &domain.Config{
				BaseURL: "/",
				APIKey:  apiKey,
			},
		},
		Version:       "test",
		Aggregator:    aggregator,
		Downloads:     downloads.NewService(aggregator, stubResolver{}, mon),
		Monitor:       mon,
		ProviderStore: providerStore,
	}
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(method)
		if !isComparableMethod(method) {
			return nil
		}

		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			return nil
		}

		route := routeKey{Method: method, Path: normalizedPath}
		if _, skip := undocumentedRoutes[route]; skip {
			return nil
		}

		routes[route] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func loadDocumentedRoutes(t *testing.T) map[routeKey]struct{} {
	t.Helper()

	specBytes, err := swagger.GetOpenAPISpec()
	require.NoError(t, err)
	require.NotEmpty(t, specBytes, "OpenAPI spec should be embedded")

	var spec map[string]any
	require.NoError(t, yaml.Unmarshal(specBytes, &spec))

	pathsNode, ok := spec["paths"].(map[string]any)
	require.True(t, ok, "OpenAPI spec missing paths section")

	routes := make(map[routeKey]struct{})

	for path, pathItem := range pathsNode {
		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			continue
		}

		methods, ok := pathItem.(map[string]any)
		if !ok {
			continue
		}

		for method := range methods {
			upperMethod := strings.ToUpper(method)
			if !isComparableMethod(upperMethod) {
				continue
			}

			routes[routeKey{Method: upperMethod, Path: normalizedPath}] = struct{}{}
		}
	}

	return routes
}

func normalizeRoutePath(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	if strings.Contains(path, "/*") {
		return "", false
	}

	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	if path == "/api/openapi.yaml" {
		return "", false
	}

	if !strings.HasPrefix(path, "/api") && !strings.HasPrefix(path, "/health") {
		return "", false
	}

	return path, true
}

func isComparableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func diffRoutes(left, right map[routeKey]struct{}) []routeKey {
	diff := make([]routeKey, 0)
	for route := range left {
		if _, exists := right[route]; !exists {
			diff = append(diff, route)
		}
	}

	sort.Slice(diff, func(i, j int) bool {
		if diff[i].Path == diff[j].Path {
			return diff[i].Method < diff[j].Method
		}
		return diff[i].Path < diff[j].Path
	})

	return diff
}

func formatRoutes(routes []routeKey) string {
	lines := make([]string, len(routes))
	for i, route := range routes {
		lines[i] = fmt.Sprintf("%s %s", route.Method, route.Path)
	}
	return strings.Join(lines, "\n")
}
