// Package llm provides the language model gateway used by the reflection
// engine: an ordered list of providers tried in sequence until one answers.
package llm

import (
	"context"
	"errors"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider kinds accepted in a ProviderDescriptor.
const (
	KindOpenAI     = "openai"
	KindCompatible = "openai-compatible"
	KindAnthropic  = "anthropic"
)

var (
	// ErrNoProviders is returned when a gateway has nothing to call.
	ErrNoProviders = errors.New("no language model providers configured")
	// ErrEmptyReply is returned when a provider answers with no text.
	ErrEmptyReply = errors.New("empty reply from provider")
	// ErrUnknownKind is returned for descriptors with an unsupported kind.
	ErrUnknownKind = errors.New("unknown provider kind")
)

// Message is one role-tagged entry sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Request is a single gateway call.
type Request struct {
	Messages []Message
	// Schema, when set, asks providers that support structured output to
	// constrain the reply to it.
	Schema *Schema
}

// Reply is the text returned by the provider that answered.
type Reply struct {
	Content  string
	Provider string
	Model    string
}

// Provider sends one request to one backend.
type Provider interface {
	Name() string
	Model() string
	Send(ctx context.Context, req Request) (*Reply, error)
}

// ProviderDescriptor is the static configuration of one provider entry.
type ProviderDescriptor struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"`
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Sender is the gateway contract consumed by the engine.
type Sender interface {
	Send(ctx context.Context, req Request) (*Reply, error)
}

func splitSystem(msgs []Message) (system string, rest []Message) {
	rest = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func maxTokensOrDefault(n int) int64 {
	if n <= 0 {
		return 1024
	}
	return int64(n)
}
