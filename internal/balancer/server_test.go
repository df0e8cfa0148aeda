package balancer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HealthReportsOKWhenAnyBackendHealthy(t *testing.T) {
	backends := newHealthyBackends(2)
	backends[0].SetHealthy(false)
	s := NewServer(NewPool(backends))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_HealthReportsErrorWhenNoneHealthy(t *testing.T) {
	backends := newHealthyBackends(2)
	backends[0].SetHealthy(false)
	backends[1].SetHealthy(false)
	s := NewServer(NewPool(backends))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StatusJSONListsBackends(t *testing.T) {
	backends := newHealthyBackends(2)
	s := NewServer(NewPool(backends))

	req := httptest.NewRequest(http.MethodGet, "/lb/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	list, ok := body["backends"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestServer_StatusPageRendersHTML(t *testing.T) {
	s := NewServer(NewPool(newHealthyBackends(1)))

	req := httptest.NewRequest(http.MethodGet, "/lb", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<table")
}
