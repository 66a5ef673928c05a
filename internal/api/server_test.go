package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceforge/internal/task"
)

func TestHealthz(t *testing.T) {
	engine := NewRouter(ServerConfig{Board: NewStatusBoard(nil)})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	engine := NewRouter(ServerConfig{Board: NewStatusBoard(nil)})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "faceforge_")
}

func TestTaskStatusEndpoint(t *testing.T) {
	board := NewStatusBoard(nil)
	board.UpdateProgress(task.Progress{TaskID: "t1", Processed: 30, Total: 60})
	engine := NewRouter(ServerConfig{Board: board})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status TaskStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "t1", status.TaskID)
	assert.Equal(t, int64(30), status.Processed)
	assert.Equal(t, "running", status.State)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyGuard(t *testing.T) {
	board := NewStatusBoard(nil)
	board.SetState("t1", "pending")
	engine := NewRouter(ServerConfig{APIKey: "secret", Board: board})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/t1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/t1", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusBoardLifecycle(t *testing.T) {
	board := NewStatusBoard(nil)
	board.UpdateProgress(task.Progress{TaskID: "t1", Processed: 10, Total: 20})
	board.SetState("t1", "completed")

	status, ok := board.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "completed", status.State)
	assert.Equal(t, int64(10), status.Processed)
}
