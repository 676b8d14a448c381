package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/goheal/internal/config"
	"github.com/copyleftdev/goheal/internal/tasks"
	"github.com/copyleftdev/goheal/internal/tasks/mocks"
	"github.com/copyleftdev/goheal/internal/taskstypes"
)

func newTestRouter(t *testing.T, apiKey string, exec *mocks.MockExecutor) http.Handler {
	t.Helper()
	cfg := &config.Config{Security: config.SecurityConfig{AllowedOrigins: []string{"*"}, ApiKey: apiKey}}
	logger := zaptest.NewLogger(t)
	tm := tasks.NewManager(exec, logger)
	t.Cleanup(func() { _ = tm.Shutdown(context.Background()) })
	return NewRouter(cfg, tm, logger)
}

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(newTestRouter(t, "secret", mocks.NewMockExecutor()), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is not behind the API key")
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestSubmitAndGetRun(t *testing.T) {
	router := newTestRouter(t, "", mocks.NewMockExecutor())

	rec := do(router, http.MethodPost, "/api/v1/runs",
		`{"target":{"url":"https://app.example.com","module_path":"/admin/"},"credentials":{"username":"admin","password":"hunter2"}}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted SubmitRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	_, err := uuid.Parse(submitted.RunID)
	require.NoError(t, err)

	var task taskstypes.Task
	require.Eventually(t, func() bool {
		rec := do(router, http.MethodGet, "/api/v1/runs/"+submitted.RunID, "", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		assert.NotContains(t, rec.Body.String(), "hunter2")
		return json.Unmarshal(rec.Body.Bytes(), &task) == nil && task.Status == taskstypes.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "/admin/", task.Target.ModulePath)
}

func TestSubmitRun_Validation(t *testing.T) {
	router := newTestRouter(t, "", mocks.NewMockExecutor())

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"bad target", `{"target":{"url":"ftp://nope"}}`},
		{"bad callback", `{"callback_url":"not a url"}`},
		{"half credentials", `{"credentials":{"username":"admin"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, http.MethodPost, "/api/v1/runs", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestGetRun_Errors(t *testing.T) {
	router := newTestRouter(t, "", mocks.NewMockExecutor())

	rec := do(router, http.MethodGet, "/api/v1/runs/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProvide2FACode(t *testing.T) {
	exec := mocks.NewMockExecutor()
	exec.WaitForCode = true
	router := newTestRouter(t, "", exec)

	rec := do(router, http.MethodPost, "/api/v1/runs", `{"two_factor_auth":{"expected":true}}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted SubmitRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	id := uuid.MustParse(submitted.RunID)

	rec = do(router, http.MethodPost, "/api/v1/runs/"+submitted.RunID+"/2fa", `{"code":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Eventually(t, func() bool {
		rec := do(router, http.MethodGet, "/api/v1/runs/"+submitted.RunID, "", nil)
		return strings.Contains(rec.Body.String(), `"status":"waiting_for_2fa"`)
	}, 2*time.Second, 5*time.Millisecond)

	rec = do(router, http.MethodPost, "/api/v1/runs/"+submitted.RunID+"/2fa", `{"code":"123456"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool { return exec.Code(id) == "123456" }, 2*time.Second, 5*time.Millisecond)

	rec = do(router, http.MethodPost, "/api/v1/runs/"+uuid.NewString()+"/2fa", `{"code":"123456"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProvide2FACode_NotWaiting(t *testing.T) {
	exec := mocks.NewMockExecutor()
	exec.Block = true
	router := newTestRouter(t, "", exec)

	rec := do(router, http.MethodPost, "/api/v1/runs", `{}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted SubmitRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	require.Eventually(t, func() bool {
		rec := do(router, http.MethodGet, "/api/v1/runs/"+submitted.RunID, "", nil)
		return strings.Contains(rec.Body.String(), `"status":"running"`)
	}, 2*time.Second, 5*time.Millisecond)

	rec = do(router, http.MethodPost, "/api/v1/runs/"+submitted.RunID+"/2fa", `{"code":"123456"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	router := newTestRouter(t, "secret", mocks.NewMockExecutor())
	path := "/api/v1/runs/" + uuid.NewString()

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, path, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, path, "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, path, "", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, path, "", map[string]string{"Authorization": "Bearer secret"}).Code)
}
