package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/tasks"
	"github.com/copyleftdev/goheal/internal/taskstypes"
)

type APIHandler struct {
	taskManager *tasks.Manager
	logger      *zap.Logger
}

func NewAPIHandler(tm *tasks.Manager, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		taskManager: tm,
		logger:      logger,
	}
}

// SubmitRunRequest starts a scaffold run. Every field is optional; the
// configured target fills the gaps.
type SubmitRunRequest struct {
	Target        taskstypes.Target            `json:"target"`
	Credentials   *taskstypes.Credentials      `json:"credentials,omitempty"`
	TwoFactorAuth taskstypes.TwoFactorAuthInfo `json:"two_factor_auth"`
	CallbackURL   string                       `json:"callback_url,omitempty"`
}

type SubmitRunResponse struct {
	RunID string `json:"run_id"`
}

type Provide2FACodeRequest struct {
	Code string `json:"code"`
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *APIHandler) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if req.Target.URL != "" && !validURL(req.Target.URL) {
		h.respondError(w, http.StatusBadRequest, "Invalid target URL: %q", req.Target.URL)
		return
	}
	if req.CallbackURL != "" && !validURL(req.CallbackURL) {
		h.respondError(w, http.StatusBadRequest, "Invalid callback URL: %q", req.CallbackURL)
		return
	}
	if req.Credentials != nil && (req.Credentials.Username == "" || req.Credentials.Password == "") {
		h.respondError(w, http.StatusBadRequest, "Credentials require both username and password")
		return
	}

	// req.Credentials contains sensitive data and is never logged.
	task := taskstypes.NewTask(req.Target, req.Credentials, req.TwoFactorAuth, req.CallbackURL)
	if err := h.taskManager.SubmitTask(task); err != nil {
		h.logger.Error("failed to submit run", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to submit run: %v", err)
		return
	}

	h.logger.Info("submitted run", zap.String("run", task.ID.String()))
	h.respondJSON(w, http.StatusAccepted, SubmitRunResponse{RunID: task.ID.String()})
}

func (h *APIHandler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid run ID format: %v", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *APIHandler) HandleGetRunStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	task, err := h.taskManager.GetTaskStatus(id)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			h.respondError(w, http.StatusNotFound, "Run not found")
		} else {
			h.logger.Error("failed to retrieve run status", zap.String("run", id.String()), zap.Error(err))
			h.respondError(w, http.StatusInternalServerError, "Failed to retrieve run status")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, task)
}

func (h *APIHandler) HandleProvide2FACode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	var req Provide2FACodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if req.Code == "" {
		h.respondError(w, http.StatusBadRequest, "2FA code cannot be empty")
		return
	}

	err := h.taskManager.Provide2FACode(id, req.Code)
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusOK, map[string]string{"message": "2FA code received"})
	case errors.Is(err, tasks.ErrTaskNotFound):
		h.respondError(w, http.StatusNotFound, "%s", err.Error())
	case errors.Is(err, tasks.ErrNotWaitingFor2FA), errors.Is(err, tasks.ErrCodeNotAccepted):
		h.respondError(w, http.StatusConflict, "%s", err.Error())
	default:
		h.logger.Error("failed to provide 2FA code", zap.String("run", id.String()), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "%s", err.Error())
	}
}

// --- Helper Functions ---

func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to marshal JSON response")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		h.logger.Warn("failed to write JSON response", zap.Error(err))
	}
}

func (h *APIHandler) respondError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	errorMessage := fmt.Sprintf(format, args...)
	jsonResponse, err := json.Marshal(map[string]string{"error": errorMessage})
	if err != nil {
		h.logger.Error("failed to marshal JSON error response", zap.Error(err))
		jsonResponse = []byte(`{"error":"internal error"}`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(jsonResponse); err != nil {
		h.logger.Warn("failed to write error response", zap.Error(err))
	}
}
