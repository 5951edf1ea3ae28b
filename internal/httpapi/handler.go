// Package httpapi exposes the loan assistant over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/horizon-finance-poc/server/internal/agent"
	errx "github.com/horizon-finance-poc/server/internal/core/error"
	"github.com/horizon-finance-poc/server/internal/sanction"
	"github.com/horizon-finance-poc/server/internal/session"
	logx "github.com/horizon-finance-poc/server/pkg/logger"
)

// Handler wires the conversation endpoints to the orchestrator and session
// store.
type Handler struct {
	orchestrator *agent.Orchestrator
	store        session.Store
	lettersDir   string
}

// New constructs the HTTP handler.
func New(orchestrator *agent.Orchestrator, store session.Store, lettersDir string) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		store:        store,
		lettersDir:   lettersDir,
	}
}

// Router builds the chi router with all API routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", h.HandleHealth)
	r.Post("/api/start", h.HandleStart)
	r.Post("/api/chat", h.HandleChat)
	r.Get("/api/session/{sessionID}", h.HandleSession)
	r.Get("/api/download/{sessionID}", h.HandleDownload)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID         string   `json:"session_id"`
	Response          string   `json:"response"`
	Stage             string   `json:"stage"`
	Actions           []string `json:"actions,omitempty"`
	DownloadAvailable bool     `json:"download_available"`
	DownloadPath      string   `json:"download_path,omitempty"`
}

type sessionResponse struct {
	SessionID string                 `json:"session_id"`
	State     session.Snapshot       `json:"state"`
	History   []session.HistoryEntry `json:"history"`
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "loan-sales-assistant",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStart handles POST /api/start. It creates a new session and returns
// the welcome message.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	result, err := h.orchestrator.StartSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: result.SessionID,
		Response:  result.Message,
		Stage:     string(result.Stage),
	})
}

// HandleChat handles POST /api/chat. An empty session_id starts a new session
// on demand; a blank message is rejected.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errx.BadRequest("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, errx.BadRequest("message is required"))
		return
	}

	result, err := h.orchestrator.ProcessMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		logx.Error().Err(err).Str("session_id", req.SessionID).Msg("chat turn failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:         result.SessionID,
		Response:          result.Message,
		Stage:             string(result.Stage),
		Actions:           result.Actions,
		DownloadAvailable: result.DownloadAvailable,
		DownloadPath:      result.DownloadPath,
	})
}

// HandleSession handles GET /api/session/{sessionID}, returning the current
// application snapshot and conversation history.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, errx.NotFound("session not found"))
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: state.SessionID,
		State:     state.Summary(),
		History:   state.HistoryEntries(),
	})
}

// HandleDownload handles GET /api/download/{sessionID}, serving the sanction
// letter for an approved application.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, errx.NotFound("session not found"))
			return
		}
		writeError(w, err)
		return
	}
	if state.SanctionLetterPath == "" {
		writeError(w, errx.NotFound("sanction letter not available for this session"))
		return
	}

	path := state.SanctionLetterPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.lettersDir, filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		logx.Warn().Err(err).Str("session_id", sessionID).Msg("sanction letter file missing")
		writeError(w, errx.NotFound("sanction letter not available for this session"))
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", sanction.LetterFileName(sessionID)))
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logx.Error().Err(err).Msg("error encoding response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := errx.SystemErrorMessage

	var appErr *errx.Error
	if errors.As(err, &appErr) {
		status = appErr.Status
		message = appErr.Message
	}

	writeJSON(w, status, map[string]string{"error": message})
}
