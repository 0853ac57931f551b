package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/llm"
	"github.com/ashureev/iceberg/internal/sanitize"
)

// HistoryWindow is how many prior messages are sent with each model call.
const HistoryWindow = 6

var (
	analysisSchema = llm.NewSchema[domain.AnalysisResult]("analysis", "Structured reading of the user's latest message")
	draftSchema    = llm.NewSchema[sanitize.Draft]("reflection", "Reflection response shown to the user")
)

// orchestrator runs the analysis and response phases against the gateway.
type orchestrator struct {
	gateway llm.Sender
	logger  *slog.Logger
}

// callInfo records which provider answered a phase.
type callInfo struct {
	Provider string
	Model    string
	Fallback bool
}

// callJSON sends msgs and decodes the reply into a fresh T, making up to
// attempts calls back to back while the call fails, comes back empty, cannot
// be parsed or decodes to a value empty reports as empty.
func callJSON[T any](ctx context.Context, o *orchestrator, phase string, attempts int, msgs []llm.Message, schema *llm.Schema, empty func(T) bool) (T, callInfo, bool) {
	var zero T
	for attempt := 1; attempt <= attempts; attempt++ {
		reply, err := o.gateway.Send(ctx, llm.Request{Messages: msgs, Schema: schema})
		if err != nil {
			o.logger.Warn("model call failed", "phase", phase, "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if strings.TrimSpace(reply.Content) == "" {
			o.logger.Warn("model returned empty content", "phase", phase, "attempt", attempt, "provider", reply.Provider)
			continue
		}
		var out T
		if err := llm.DecodeModelJSON(reply.Content, &out); err != nil {
			o.logger.Warn("model returned unparsable content", "phase", phase, "attempt", attempt, "provider", reply.Provider, "error", err)
			continue
		}
		if empty(out) {
			o.logger.Warn("model returned an empty object", "phase", phase, "attempt", attempt, "provider", reply.Provider)
			continue
		}
		return out, callInfo{Provider: reply.Provider, Model: reply.Model}, true
	}
	return zero, callInfo{Fallback: true}, false
}

func conversation(system string, history []domain.ChatMessage, message string) []llm.Message {
	recent := domain.LastMessages(history, HistoryWindow)
	msgs := make([]llm.Message, 0, len(recent)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range recent {
		role := llm.RoleUser
		if m.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
}

// analyze runs phase 1. It always returns a usable result.
func (o *orchestrator) analyze(ctx context.Context, message string, history []domain.ChatMessage) (domain.AnalysisResult, callInfo) {
	out, info, ok := callJSON(ctx, o, "analysis", 2, conversation(analysisPrompt, history, message), analysisSchema,
		domain.AnalysisResult.IsZero)
	if !ok {
		return domain.NeutralAnalysis(), callInfo{Fallback: true}
	}
	return out, info
}

// respond runs phase 2. A nil draft means the phase failed.
func (o *orchestrator) respond(ctx context.Context, p responseParams) (*sanitize.Draft, callInfo) {
	return o.draft(ctx, "response", 2, buildResponsePrompt(p), p)
}

// regenerate makes exactly one call with an explicit negative-constraint prompt.
func (o *orchestrator) regenerate(ctx context.Context, p responseParams, reasons []string) (*sanitize.Draft, callInfo) {
	return o.draft(ctx, "regeneration", 1, buildRegenerationPrompt(p, reasons), p)
}

func (o *orchestrator) draft(ctx context.Context, phase string, attempts int, system string, p responseParams) (*sanitize.Draft, callInfo) {
	out, info, ok := callJSON(ctx, o, phase, attempts, conversation(system, p.History, p.Message), draftSchema,
		func(d sanitize.Draft) bool { return d == sanitize.Draft{} })
	if !ok {
		return nil, callInfo{Fallback: true}
	}
	return &out, info
}
