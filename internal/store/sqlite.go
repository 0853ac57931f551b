package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes write transactions to avoid SQLITE_BUSY
	retry   shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + filepath.ToSlash(dbPath) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		context_json TEXT NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(user_id, session_id, seq);

	CREATE TABLE IF NOT EXISTS outputs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		output_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outputs_session ON outputs(user_id, session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// GetSession returns the session row for (userID, sessionID).
func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	query := `
		SELECT context_json, turn_count, created_at, updated_at
		FROM sessions WHERE user_id = ? AND session_id = ?`

	var contextJSON string
	var createdAt, updatedAt int64
	sess := domain.Session{UserID: userID, SessionID: sessionID}
	err := s.db.QueryRowContext(ctx, query, userID, sessionID).Scan(
		&contextJSON, &sess.TurnCount, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("decode session context: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// SaveTurn writes the session, both messages and the output atomically.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn Turn) error {
	at := turn.At
	if at.IsZero() {
		at = time.Now()
	}
	created := turn.Session.CreatedAt
	if created.IsZero() {
		created = at
	}

	contextJSON, err := json.Marshal(turn.Session.Context)
	if err != nil {
		return fmt.Errorf("encode session context: %w", err)
	}
	outputJSON, err := json.Marshal(turn.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	userID, sessionID := turn.Session.UserID, turn.Session.SessionID
	return s.writeTx(ctx, "save turn", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (user_id, session_id, context_json, turn_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, session_id) DO UPDATE SET
				context_json = excluded.context_json,
				turn_count = excluded.turn_count,
				updated_at = excluded.updated_at`,
			userID, sessionID, string(contextJSON), turn.Session.TurnCount, created.Unix(), at.Unix(),
		); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		insertMsg := `INSERT INTO messages (id, user_id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insertMsg,
			uuid.NewString(), userID, sessionID, string(domain.RoleUser), turn.UserMessage, at.Unix(),
		); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertMsg,
			uuid.NewString(), userID, sessionID, string(domain.RoleAssistant), turn.AssistantMessage, at.Unix(),
		); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outputs (id, user_id, session_id, output_json, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), userID, sessionID, string(outputJSON), at.Unix(),
		); err != nil {
			return fmt.Errorf("insert output: %w", err)
		}
		return nil
	})
}

// ListMessages returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, userID, sessionID string, limit int) ([]domain.StoredMessage, error) {
	query := `
		SELECT id, role, content, created_at FROM (
			SELECT seq, id, role, content, created_at FROM messages
			WHERE user_id = ? AND session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []domain.StoredMessage
	for rows.Next() {
		m := domain.StoredMessage{UserID: userID, SessionID: sessionID}
		var role string
		var createdAt int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// ListOutputs returns up to limit most recent outputs, newest first.
func (s *SQLiteStore) ListOutputs(ctx context.Context, userID, sessionID string, limit int) ([]domain.StoredOutput, error) {
	query := `
		SELECT id, output_json, created_at FROM outputs
		WHERE user_id = ? AND session_id = ?
		ORDER BY seq DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close output rows", "error", closeErr)
		}
	}()

	var out []domain.StoredOutput
	for rows.Next() {
		o := domain.StoredOutput{UserID: userID, SessionID: sessionID}
		var outputJSON string
		var createdAt int64
		if err := rows.Scan(&o.ID, &outputJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan output row: %w", err)
		}
		if err := json.Unmarshal([]byte(outputJSON), &o.Output); err != nil {
			return nil, fmt.Errorf("decode output %s: %w", o.ID, err)
		}
		o.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return out, nil
}

// ResetSession removes the session row with its messages and outputs.
func (s *SQLiteStore) ResetSession(ctx context.Context, userID, sessionID string) error {
	return s.writeTx(ctx, "reset session", func(tx *sql.Tx) error {
		for _, table := range []string{"messages", "outputs", "sessions"} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE user_id = ? AND session_id = ?`, userID, sessionID,
			); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
}

// DeleteIdleSessions removes sessions whose last turn is older than ttl.
func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var deleted int64
	err := s.writeTx(ctx, "delete idle sessions", func(tx *sql.Tx) error {
		for _, table := range []string{"messages", "outputs"} {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM `+table+` WHERE (user_id, session_id) IN (
					SELECT user_id, session_id FROM sessions WHERE updated_at < ?
				)`, threshold,
			); err != nil {
				return fmt.Errorf("delete idle %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete idle sessions: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// writeTx runs fn in a transaction under the write mutex, retrying the whole
// transaction on SQLite contention.
func (s *SQLiteStore) writeTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%s: begin: %w", op, err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: commit: %w", op, err)
		}
		return nil
	})
}
