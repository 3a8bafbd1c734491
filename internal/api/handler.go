// Package api provides the operational HTTP surface of the bot.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/repo-butler/internal/domain"
	"github.com/ashureev/repo-butler/internal/store"
)

// SessionReader reports the current wizard session owner, if any.
type SessionReader interface {
	Owner() *domain.SessionOwner
}

// Handler serves liveness and ledger inspection endpoints.
type Handler struct {
	repo     store.Repository
	sessions SessionReader
	name     string
	started  time.Time
}

// NewHandler creates an ops handler.
func NewHandler(repo store.Repository, sessions SessionReader, name string) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		name:     name,
		started:  time.Now(),
	}
}

// Register mounts the ops routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/isalive", h.handleIsAlive)
	r.Get("/api/session", h.handleSession)
	r.Get("/api/history", h.handleHistory)
}

func (h *Handler) handleIsAlive(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"name":   h.name,
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	owner := h.sessions.Owner()
	if owner == nil {
		JSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"active": true,
		"owner":  owner,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid chat_id")
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	entries, err := h.repo.History(r.Context(), chatID, userID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if entries == nil {
		entries = []*domain.HistoryEntry{}
	}
	JSON(w, http.StatusOK, entries)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
