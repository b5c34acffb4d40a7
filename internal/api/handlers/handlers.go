// Package handlers implements the HTTP handlers for the intentd engine.
// The transport layer only ever calls the engine's public operations and
// never reaches into internal state.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pelangihq/intentd/internal/config"
	"github.com/pelangihq/intentd/internal/engine"
	"github.com/pelangihq/intentd/internal/promptcache"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine  *engine.Engine
	Domain  *config.DomainConfig
	Prompts *promptcache.Cache
}

// New creates a Handlers instance.
func New(eng *engine.Engine, domain *config.DomainConfig, prompts *promptcache.Cache) *Handlers {
	return &Handlers{Engine: eng, Domain: domain, Prompts: prompts}
}

// ── Classification ───────────────────────────────────────────

type classifyRequest struct {
	UserKey string `json:"user_key"`
	Text    string `json:"text"`
}

// Classify runs the full tier cascade without generating a reply.
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	result := h.Engine.Classify(r.Context(), req.UserKey, req.Text)
	respondJSON(w, http.StatusOK, result)
}

// ClassifyOnly runs the fast-tier split, optionally pinned to one backend.
func (h *Handlers) ClassifyOnly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		classifyRequest
		BackendHint string `json:"backend_hint,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	result := h.Engine.ClassifyOnly(r.Context(), req.UserKey, req.Text, req.BackendHint)
	respondJSON(w, http.StatusOK, result)
}

// ── Response generation ──────────────────────────────────────

type respondRequest struct {
	UserKey string `json:"user_key"`
	Message string `json:"message"`
	Smart   bool   `json:"smart,omitempty"`
}

// Respond classifies the message and generates a reply. Backend
// exhaustion degrades to an unknown/empty result, never an error status.
func (h *Handlers) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	if req.Smart {
		respondJSON(w, http.StatusOK, h.Engine.ClassifyAndRespondWithSmartFallback(r.Context(), req.UserKey, req.Message))
		return
	}
	respondJSON(w, http.StatusOK, h.Engine.ClassifyAndRespond(r.Context(), req.UserKey, req.Message))
}

type replyRequest struct {
	UserKey string `json:"user_key"`
	Message string `json:"message"`
	Intent  string `json:"intent,omitempty"`
}

// Reply generates a response for a message whose intent is already known.
// Unlike Respond, total backend exhaustion is a 503.
func (h *Handlers) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.Engine.GenerateReply(r.Context(), req.UserKey, req.Message, req.Intent)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "temporarily unavailable, please try again shortly")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type translateRequest struct {
	Text string `json:"text"`
	From string `json:"from"`
	To   string `json:"to"`
}

type translateResponse struct {
	Text *string `json:"text"`
}

// Translate renders text between languages; a null text means no backend
// could serve the request.
func (h *Handlers) Translate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	out := h.Engine.Translate(r.Context(), req.Text, req.From, req.To)
	if out == "" {
		respondJSON(w, http.StatusOK, translateResponse{Text: nil})
		return
	}
	respondJSON(w, http.StatusOK, translateResponse{Text: &out})
}

// ── Backends ─────────────────────────────────────────────────

// ListBackends reports every configured backend with its resilience state,
// including disabled and credential-less ones.
func (h *Handlers) ListBackends(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Engine.BackendStatus())
}

// TestBackend issues one validation call against the named backend.
func (h *Handlers) TestBackend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "backendID")
	result, ok := h.Engine.TestBackend(r.Context(), id)
	if !ok {
		respondJSON(w, http.StatusNotFound, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Configuration ────────────────────────────────────────────

// ReloadConfig re-reads the domain configuration file and invalidates the
// prompt cache. The previous configuration stays live on failure.
func (h *Handlers) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.Domain.Reload(); err != nil {
		log.Error().Err(err).Msg("Domain configuration reload failed")
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.Prompts.Invalidate()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reloaded",
		"version": h.Domain.Version(),
	})
}

// ── Helpers ──────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
