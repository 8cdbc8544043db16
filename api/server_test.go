package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freundallein/taskgate/approval"
	"github.com/freundallein/taskgate/chassis/ratelimit"
	"github.com/freundallein/taskgate/chassis/storage"
	"github.com/freundallein/taskgate/dispatcher"
)

const testToken = "secret"

func newTestRouter(repo *storage.MemRepository) http.Handler {
	registry := dispatcher.NewRegistry().
		Register("noop-success", dispatcher.NoopSuccess())
	service := dispatcher.New(dispatcher.Config{
		Repository:  repo,
		Limiter:     ratelimit.NewMemLimiter(),
		Registry:    registry,
		BatchSize:   10,
		MaxAttempts: 3,
		TaskTimeout: time.Second,
		RateMax:     1000,
	})
	return NewRouter(Config{
		Repository: repo,
		Gate:       approval.NewGate(repo, nil),
		Dispatcher: service,
		Token:      testToken,
	})
}

func doRequest(t *testing.T, router http.Handler, method, path string, payload interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(storage.NewMemRepository())

	rec := doRequest(t, router, http.MethodPost, "/api/v0/dispatch", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v0/dispatch", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, "health stays open")
}

func TestCreateAndGetTask(t *testing.T) {
	repo := storage.NewMemRepository()
	router := newTestRouter(repo)

	rec := doRequest(t, router, http.MethodPost, "/api/v0/tasks", map[string]interface{}{
		"title":            "audit example.com",
		"assigned_handler": "noop-success",
		"priority":         "high",
		"metadata":         map[string]string{"site": "example.com"},
	}, testToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created taskView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "new", created.Status)
	assert.Equal(t, "high", created.Priority)

	rec = doRequest(t, router, http.MethodGet, "/api/v0/tasks/"+created.ID, nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/v0/tasks/missing", nil, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTaskValidation(t *testing.T) {
	router := newTestRouter(storage.NewMemRepository())

	rec := doRequest(t, router, http.MethodPost, "/api/v0/tasks", map[string]interface{}{
		"title": "no handler",
	}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v0/tasks", map[string]interface{}{
		"title":            "bad priority",
		"assigned_handler": "noop-success",
		"priority":         "asap",
	}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveRejectFlow(t *testing.T) {
	repo := storage.NewMemRepository()
	router := newTestRouter(repo)

	task := storage.NewTask("gated", "noop-success", storage.HIGH, true, nil)
	require.NoError(t, repo.Create(context.Background(), task))

	rec := doRequest(t, router, http.MethodPost, "/api/v0/tasks/"+task.ID+"/approve",
		map[string]string{"approver": "alice"}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v0/tasks/"+task.ID+"/approve",
		map[string]string{"approver": "bob"}, testToken)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v0/tasks/"+task.ID+"/reject",
		map[string]string{"approver": "bob", "reason": "late"}, testToken)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v0/tasks/missing/approve",
		map[string]string{"approver": "alice"}, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchTrigger(t *testing.T) {
	repo := storage.NewMemRepository()
	router := newTestRouter(repo)

	task := storage.NewTask("runnable", "noop-success", storage.MEDIUM, false, nil)
	require.NoError(t, repo.Create(context.Background(), task))

	rec := doRequest(t, router, http.MethodPost, "/api/v0/dispatch", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary dispatcher.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, dispatcher.Summary{Executed: 1}, summary)
}
