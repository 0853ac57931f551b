// Package api provides shared HTTP helpers and the service-level endpoints
// of the Iceberg API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/engine"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckFunc probes an optional dependency for /api/health.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name  string
	check CheckFunc
}

// Handler serves health and client configuration.
type Handler struct {
	store     Pinger
	providers []string
	checks    []namedCheck
	startedAt time.Time
}

// NewHandler creates a Handler. providers are the configured model provider
// names in preference order.
func NewHandler(store Pinger, providers []string) *Handler {
	return &Handler{store: store, providers: providers, startedAt: time.Now()}
}

// WithCheck adds an optional dependency to /api/health. A failing check
// reports the service as degraded but keeps the 200 status; only the store
// makes it unavailable. A nil check is ignored.
func (h *Handler) WithCheck(name string, check CheckFunc) *Handler {
	if check != nil {
		h.checks = append(h.checks, namedCheck{name: name, check: check})
	}
	return h
}

// ConfigResponse is the body of GET /api/config.
type ConfigResponse struct {
	Intents          []domain.Intent `json:"intents"`
	Providers        []string        `json:"providers"`
	MaxMessageLength int             `json:"max_message_length"`
}

// RegisterRoutes registers the service endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
	r.Get("/api/config", h.HandleConfig)
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}

	status := "ok"
	body := map[string]any{}
	if len(h.checks) > 0 {
		results := make(map[string]string, len(h.checks))
		for _, c := range h.checks {
			if err := c.check(ctx); err != nil {
				status = "degraded"
				results[c.name] = err.Error()
				continue
			}
			results[c.name] = "ok"
		}
		body["checks"] = results
	}
	body["status"] = status
	body["uptime"] = time.Since(h.startedAt).Round(time.Second).String()
	JSON(w, http.StatusOK, body)
}

// HandleConfig handles GET /api/config.
func (h *Handler) HandleConfig(w http.ResponseWriter, _ *http.Request) {
	providers := h.providers
	if providers == nil {
		providers = []string{}
	}
	JSON(w, http.StatusOK, ConfigResponse{
		Intents:          domain.Intents,
		Providers:        providers,
		MaxMessageLength: engine.MaxMessageRunes,
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
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
