// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/iceberg/internal/domain"
)

// Turn is everything persisted after one engine response.
type Turn struct {
	Session          domain.Session
	UserMessage      string
	AssistantMessage string
	Output           domain.EngineOutput
	At               time.Time
}

// Repository defines the interface for persisting users, sessions and turns.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetSession returns the session row. Returns nil, nil if absent.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)

	// SaveTurn writes the session context, both messages and the output in
	// one transaction.
	SaveTurn(ctx context.Context, turn Turn) error

	// ListMessages returns up to limit most recent messages, oldest first.
	ListMessages(ctx context.Context, userID, sessionID string, limit int) ([]domain.StoredMessage, error)

	// ListOutputs returns up to limit most recent outputs, newest first.
	ListOutputs(ctx context.Context, userID, sessionID string, limit int) ([]domain.StoredOutput, error)

	// ResetSession removes the session row with its messages and outputs.
	ResetSession(ctx context.Context, userID, sessionID string) error

	// DeleteIdleSessions removes sessions not updated within ttl and returns
	// how many were deleted.
	DeleteIdleSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
