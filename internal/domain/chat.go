package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message written by the person reflecting.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the engine.
	RoleAssistant Role = "assistant"
)

// ChatMessage is one immutable entry of a conversation history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StoredMessage is a persisted chat message entry.
type StoredMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage returns the engine view of a stored message.
func (m StoredMessage) ChatMessage() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.Content}
}

// StoredOutput is a persisted engine output for a session.
type StoredOutput struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	SessionID string       `json:"session_id"`
	Output    EngineOutput `json:"output"`
	CreatedAt time.Time    `json:"created_at"`
}

// LastMessages returns at most n trailing messages of history.
func LastMessages(history []ChatMessage, n int) []ChatMessage {
	if n <= 0 {
		return nil
	}
	if n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}
