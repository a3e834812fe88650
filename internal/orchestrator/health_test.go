package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/total-audio/meshos/pkg/mesh"
)

func TestHealthHandler(t *testing.T) {
	engine, store := setupEngine(t, testConfig(),
		testAdapter(t, mesh.ParticipantAutopilot, nil))
	server := NewStatusServer(engine, store)

	t.Run("healthy when redis reachable", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "connected", resp.Redis)
	})

	t.Run("unhealthy when redis gone", func(t *testing.T) {
		require.NoError(t, store.Close())

		rec := httptest.NewRecorder()
		server.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
	})

	t.Run("rejects non-GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.healthHandler(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestStatusAndCycleHandlers(t *testing.T) {
	engine, store := setupEngine(t, testConfig(),
		testAdapter(t, mesh.ParticipantAutopilot, nil))
	server := NewStatusServer(engine, store)

	rec := httptest.NewRecorder()
	server.statusHandler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Equal(t, int64(0), status.CycleCount)

	// POST /cycle runs one cycle and returns the updated counters.
	rec = httptest.NewRecorder()
	server.cycleHandler(rec, httptest.NewRequest(http.MethodPost, "/cycle", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, int64(1), status.CycleCount)

	rec = httptest.NewRecorder()
	server.cycleHandler(rec, httptest.NewRequest(http.MethodGet, "/cycle", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestContextAndSummaryHandlers(t *testing.T) {
	engine, store := setupEngine(t, testConfig(),
		testAdapter(t, mesh.ParticipantAutopilot, nil))
	server := NewStatusServer(engine, store)

	rec := httptest.NewRecorder()
	server.contextHandler(rec, httptest.NewRequest(http.MethodGet, "/context", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	engine.RunCycle(httptest.NewRequest(http.MethodPost, "/cycle", nil).Context())

	rec = httptest.NewRecorder()
	server.contextHandler(rec, httptest.NewRequest(http.MethodGet, "/context", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var gc mesh.GlobalContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gc))
	assert.Equal(t, "ws-1", gc.WorkspaceID)
	assert.Len(t, gc.Systems, 1)

	rec = httptest.NewRecorder()
	server.summaryHandler(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.ActivePlans)
}
