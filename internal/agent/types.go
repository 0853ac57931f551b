// Package agent serves the reflection engine to clients: it owns session
// persistence, per-session ordering and the HTTP and websocket surfaces.
package agent

import (
	"github.com/ashureev/iceberg/internal/domain"
)

// ReflectRequest is one user turn submitted over HTTP, websocket or the CLI.
type ReflectRequest struct {
	Message   string `json:"message"`
	Intent    string `json:"intent,omitempty"`
	UserID    string `json:"-"`
	SessionID string `json:"-"`
	RequestID string `json:"-"`
	Channel   string `json:"-"` // transcript log surface: http, ws or cli
}

// HistoryResponse is the body of GET /api/agent/history.
type HistoryResponse struct {
	SessionID string                 `json:"session_id"`
	Messages  []domain.StoredMessage `json:"messages"`
}

// Config holds agent configuration.
type Config struct {
	// HistoryLimit is how many stored messages are loaded as engine history.
	HistoryLimit int
	// OutputLimit is how many stored outputs seed the anti-repetition lists.
	OutputLimit int
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		HistoryLimit: 40,
		OutputLimit:  domain.MaxPreviousQuestions,
	}
}

// Socket frame types.
const (
	FrameReflect = "reflect"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameOutput  = "output"
	FrameError   = "error"
)

// socketFrame is an inbound websocket text frame. Type defaults to reflect.
type socketFrame struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Intent  string `json:"intent,omitempty"`
}

// socketReply is an outbound websocket text frame.
type socketReply struct {
	Type   string               `json:"type"`
	Output *domain.EngineOutput `json:"output,omitempty"`
	Error  string               `json:"error,omitempty"`
}
