package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/iceberg/internal/engine"
	"github.com/ashureev/iceberg/internal/identity"
)

const socketWriteTimeout = 10 * time.Second

// SocketRegistry tracks the one active chat socket per user and session.
type SocketRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry(logger *slog.Logger) *SocketRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketRegistry{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

// Active returns the active connection for a user and session.
func (m *SocketRegistry) Active(userID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[userID][sessionID]
}

// Register records conn for the user/session, closing any connection it replaces.
func (m *SocketRegistry) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		// The close handshake waits on the peer; do not hold the lock for it.
		go func() { _ = existing.Close(websocket.StatusPolicyViolation, "session replaced") }()
	}
	m.active[userID][sessionID] = conn
	m.logger.Info("chat socket registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the active connection.
func (m *SocketRegistry) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	if current, exists := sessions[sessionID]; exists && current == conn {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
		m.logger.Info("chat socket unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// CloseAll terminates every registered socket.
func (m *SocketRegistry) CloseAll() {
	m.mu.Lock()
	var conns []*websocket.Conn
	for userID, sessions := range m.active {
		for _, conn := range sessions {
			conns = append(conns, conn)
		}
		delete(m.active, userID)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// HandleSocket handles GET /ws/agent. Each text frame is one reflect turn.
func (h *Handler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, `{"error":"origin not allowed"}`, http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(h.opts.MaxRequestBodySize)
	defer func() { _ = ws.CloseNow() }()

	h.sockets.Register(userID, sessionID, ws)
	defer h.sockets.Unregister(userID, sessionID, ws)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("chat socket closed", "user_id", userID, "session_id", sessionID)
			} else {
				h.logger.Warn("chat socket read error", "error", err, "user_id", userID)
			}
			return
		}

		var frame socketFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.writeFrame(ctx, ws, socketReply{Type: FrameError, Error: "invalid frame"})
			continue
		}

		switch strings.ToLower(frame.Type) {
		case FramePing:
			h.writeFrame(ctx, ws, socketReply{Type: FramePong})
		case "", FrameReflect:
			h.writeFrame(ctx, ws, h.reflectFrame(ctx, userID, sessionID, frame))
		default:
			h.writeFrame(ctx, ws, socketReply{Type: FrameError, Error: "unknown frame type"})
		}
	}
}

func (h *Handler) reflectFrame(ctx context.Context, userID, sessionID string, frame socketFrame) socketReply {
	if !h.rateLimiter.Allow(userID) {
		return socketReply{Type: FrameError, Error: "rate limit exceeded"}
	}
	out, err := h.svc.Reflect(ctx, ReflectRequest{
		Message:   frame.Message,
		Intent:    frame.Intent,
		UserID:    userID,
		SessionID: sessionID,
		Channel:   "ws",
	})
	switch {
	case err == nil:
		return socketReply{Type: FrameOutput, Output: out}
	case errors.Is(err, engine.ErrInvalidInput):
		return socketReply{Type: FrameError, Error: err.Error()}
	default:
		h.logger.Error("socket reflect failed", "error", err, "user_id", userID, "session_id", sessionID)
		return socketReply{Type: FrameError, Error: "internal error"}
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, reply socketReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		h.logger.Warn("failed to encode socket frame", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("failed to write socket frame", "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" || origin == h.opts.AllowedOrigin {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}
