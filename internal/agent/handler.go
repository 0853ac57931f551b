package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/iceberg/internal/api"
	"github.com/ashureev/iceberg/internal/engine"
	"github.com/ashureev/iceberg/internal/identity"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (64KB).
const defaultMaxRequestBodySize = 64 << 10

// maxHistoryLimit caps GET /api/agent/history?limit=.
const maxHistoryLimit = 200

// RateLimiter implements a per-user sliding window limiter.
// The key is userID only, not userID:sessionID, so clients cannot bypass
// throttling by rotating session IDs.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := r.fresh(r.requests[key], now.Add(-r.window))
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *RateLimiter) fresh(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// evictLoop periodically drops keys with no recent requests so the map
// does not grow without bound.
func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				if fresh := r.fresh(times, cutoff); len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}
}

// HandlerOptions configures the agent HTTP surface.
type HandlerOptions struct {
	MaxRequestBodySize int64
	AllowedOrigin      string
	IsDev              bool
	Logger             *slog.Logger
}

// Handler serves the reflection endpoints and the chat socket.
type Handler struct {
	svc         *Service
	rateLimiter *RateLimiter
	sockets     *SocketRegistry
	opts        HandlerOptions
	logger      *slog.Logger
}

// NewHandler creates the agent handler.
func NewHandler(svc *Service, limiter *RateLimiter, opts HandlerOptions) *Handler {
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:         svc,
		rateLimiter: limiter,
		sockets:     NewSocketRegistry(logger),
		opts:        opts,
		logger:      logger,
	}
}

// RegisterRoutes registers agent routes (requires identity middleware).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/reflect", h.HandleReflect)
		r.Get("/history", h.HandleHistory)
		r.Post("/reset", h.HandleReset)
	})
	r.Get("/ws/agent", h.HandleSocket)
}

// Close stops the rate limiter and closes open sockets.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	h.sockets.CloseAll()
}

// HandleReflect handles POST /api/agent/reflect.
func (h *Handler) HandleReflect(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBodySize)
	var req ReflectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.UserID = userID
	req.SessionID = identity.SessionIDFromContext(r.Context())
	req.RequestID = chiMiddleware.GetReqID(r.Context())
	req.Channel = "http"

	h.logger.Info("reflect request",
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"remote_ip", identity.IPFromRequest(r),
		"message_length", len(req.Message),
		"intent", req.Intent,
	)

	out, err := h.svc.Reflect(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, out)
}

// HandleHistory handles GET /api/agent/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	msgs, err := h.svc.History(r.Context(), userID, sessionID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, HistoryResponse{SessionID: sessionID, Messages: msgs})
}

// HandleReset handles POST /api/agent/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Reset(r.Context(), userID, sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": sessionID})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrMissingIdentity):
		api.Error(w, http.StatusUnauthorized, "unauthorized")
	default:
		h.logger.Error("agent request failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "internal error")
	}
}
