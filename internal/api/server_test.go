package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/quantdesk/internal/persist"
)

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := NewServer(":0", nil, "")
	rec := doGet(t, s, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestSession_ReturnsLatestSummary(t *testing.T) {
	store, err := persist.NewStore(t.TempDir(), "default")
	require.NoError(t, err)
	require.NoError(t, store.WriteSessionSummary("sess-1", map[string]any{
		"session_id": "sess-1", "final_value": 10450.0,
	}))

	s := NewServer(":0", store, "")
	rec := doGet(t, s, "/api/v1/session")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sess-1"`)
}

func TestSession_NotFoundBeforeFirstRun(t *testing.T) {
	store, err := persist.NewStore(t.TempDir(), "default")
	require.NoError(t, err)

	s := NewServer(":0", store, "")
	rec := doGet(t, s, "/api/v1/session")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboard_ServesSinkFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte(`[{"date":"2024-03-04"}]`), 0o644))

	s := NewServer(":0", nil, dir)

	rec := doGet(t, s, "/api/v1/dashboard/summary")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2024-03-04")

	// known view with no data yet
	rec = doGet(t, s, "/api/v1/dashboard/trades")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboard_RejectsUnknownView(t *testing.T) {
	s := NewServer(":0", nil, t.TempDir())

	rec := doGet(t, s, "/api/v1/dashboard/passwd")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	s := NewServer(":0", nil, "")
	rec := doGet(t, s, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}
