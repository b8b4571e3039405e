package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/dispatch"
	"github.com/webpilot-ai/webpilot/internal/session"
	"github.com/webpilot-ai/webpilot/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	loop       *agent.Loop
	logger     *logrus.Entry
}

// NewHandler creates a new HTTP handler
func NewHandler(registry *session.Registry, dispatcher *dispatch.Dispatcher, loop *agent.Loop, logger *logrus.Entry) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		loop:       loop,
		logger:     logger,
	}
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest

	// An empty body means default settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := h.registry.Create(req)
	if err != nil {
		if errors.Is(err, session.ErrCapacity) {
			writeError(w, http.StatusServiceUnavailable, "session capacity reached")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	summaries := h.registry.List()

	statusStr := r.URL.Query().Get("status")
	if statusStr != "" {
		status := models.SessionStatus(statusStr)
		filtered := summaries[:0]
		for _, s := range summaries {
			if s.Status == status {
				filtered = append(filtered, s)
			}
		}
		summaries = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Deletion is idempotent: deleting an unknown session succeeds
	if err := h.registry.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetHistory handles GET /v1/sessions/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	history, err := h.registry.History(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": id,
		"history":   history,
	})
}

// GetCommands handles GET /v1/sessions/{id}/commands
func (h *Handler) GetCommands(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": id,
		"commands":  sess.Commands,
	})
}

// commandRequest is the wire shape for POST .../commands
type commandRequest struct {
	Type      models.CommandType     `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	TimeoutMs int                    `json:"timeoutMs"`
}

func (req commandRequest) spec() models.CommandSpec {
	spec := models.CommandSpec{
		Type:    req.Type,
		Payload: req.Payload,
	}
	if spec.Payload == nil {
		spec.Payload = map[string]interface{}{}
	}
	if req.TimeoutMs > 0 {
		spec.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	return spec
}

// ExecuteCommand handles POST /v1/sessions/{id}/commands.
// The request blocks until the command resolves or times out.
func (h *Handler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.dispatcher.Execute(r.Context(), id, req.spec())
	if err != nil {
		var verr *dispatch.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, dispatch.ErrNoConnection):
			writeError(w, http.StatusConflict, "no live connection for session")
		case errors.Is(err, dispatch.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, "command queue full for session")
		case errors.Is(err, dispatch.ErrTimeout):
			writeError(w, http.StatusGatewayTimeout, "command timed out")
		case errors.Is(err, dispatch.ErrConnectionLost):
			writeError(w, http.StatusBadGateway, "connection lost while command was in flight")
		default:
			h.logger.WithError(err).Error("command execution failed")
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ValidateCommand handles POST /v1/sessions/{id}/commands/validate.
// It checks the command shape without executing anything.
func (h *Handler) ValidateCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := dispatch.Validate(req.spec()); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

// taskRequest is the wire shape for POST .../tasks
type taskRequest struct {
	Instruction string `json:"instruction"`
}

// RunTask handles POST /v1/sessions/{id}/tasks.
// The request blocks until the agent loop finishes.
func (h *Handler) RunTask(w http.ResponseWriter, r *http.Request) {
	if h.loop == nil {
		writeError(w, http.StatusServiceUnavailable, "planner not configured")
		return
	}
	id := mux.Vars(r)["id"]

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Instruction == "" {
		writeError(w, http.StatusBadRequest, "instruction is required")
		return
	}

	result, err := h.loop.Run(r.Context(), id, req.Instruction)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.WithError(err).Error("task run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetSessionScreenshot handles GET /v1/sessions/{id}/screenshot.
// Returns the current page as a PNG image.
func (h *Handler) GetSessionScreenshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := h.dispatcher.Execute(r.Context(), id, models.CommandSpec{
		Type:    models.CmdScreenshot,
		Payload: map[string]interface{}{},
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "screenshot failed: "+err.Error())
		return
	}
	if !result.Success {
		writeError(w, http.StatusInternalServerError, "screenshot failed: "+result.Error)
		return
	}

	screenshotBase64, ok := result.Data["data"].(string)
	if !ok {
		writeError(w, http.StatusInternalServerError, "invalid screenshot data")
		return
	}

	screenshotBytes, err := base64.StdEncoding.DecodeString(screenshotBase64)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to decode screenshot")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(screenshotBytes)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"sessions":        h.registry.Count(),
		"pendingCommands": h.dispatcher.PendingCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
