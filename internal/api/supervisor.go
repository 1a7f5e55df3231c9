package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/dannaaduna/oacd-core/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SupervisorHandler provides REST endpoints for the dashboard: the live
// agent roster, admin kick, and state-change history
type SupervisorHandler struct {
	registry *registry.Registry
	store    storage.Store
	logger   zerolog.Logger
}

// NewSupervisorHandler creates a new SupervisorHandler
func NewSupervisorHandler(reg *registry.Registry, store storage.Store, logger zerolog.Logger) *SupervisorHandler {
	return &SupervisorHandler{
		registry: reg,
		store:    store,
		logger:   logger.With().Str("component", "supervisor_api").Logger(),
	}
}

// ListAgents handles GET /supervisor/agents
func (h *SupervisorHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.registry.List()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":  len(agents),
		"agents": agents,
	})
}

// KickAgent handles POST /supervisor/agents/{login}/kick
func (h *SupervisorHandler) KickAgent(w http.ResponseWriter, r *http.Request) {
	login := chi.URLParam(r, "login")
	if login == "" {
		http.Error(w, "login is required", http.StatusBadRequest)
		return
	}

	if !h.registry.Kick(login, "kicked") {
		http.Error(w, "agent not logged in", http.StatusNotFound)
		return
	}

	h.logger.Info().Str("login", login).Msg("agent kicked via API")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "agent kicked",
		"login":   login,
	})
}

// StateHistory handles GET /supervisor/states?date=YYYY-MM-DD&login=...
func (h *SupervisorHandler) StateHistory(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	login := r.URL.Query().Get("login")

	var err error
	var records any
	if login != "" {
		records, err = h.store.GetAgentStatesByDate(login, date)
	} else {
		records, err = h.store.GetStateRecords(date)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to load state records")
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"date":    date,
		"records": records,
	})
}
