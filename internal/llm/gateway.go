package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Gateway tries its providers in order and returns the first non-empty reply.
type Gateway struct {
	providers []Provider
	logger    *slog.Logger
}

// NewGateway builds a gateway from already-constructed providers.
func NewGateway(providers []Provider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{providers: providers, logger: logger}
}

// FromDescriptors constructs one provider per descriptor, preserving order.
func FromDescriptors(descs []ProviderDescriptor, logger *slog.Logger) (*Gateway, error) {
	providers := make([]Provider, 0, len(descs))
	for _, d := range descs {
		p, err := NewProvider(d)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", d.Name, err)
		}
		providers = append(providers, p)
	}
	return NewGateway(providers, logger), nil
}

// NewProvider constructs the provider implementation for a descriptor kind.
func NewProvider(d ProviderDescriptor) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(d.Kind)) {
	case KindOpenAI:
		return NewOpenAI(d)
	case KindCompatible, "openrouter":
		return NewCompatible(d)
	case KindAnthropic:
		return NewAnthropic(d)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}
}

// Names returns provider names in preference order.
func (g *Gateway) Names() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}
	return names
}

// Send calls each provider in order until one returns non-empty content.
func (g *Gateway) Send(ctx context.Context, req Request) (*Reply, error) {
	if len(g.providers) == 0 {
		return nil, ErrNoProviders
	}

	var errs []error
	for _, p := range g.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reply, err := p.Send(ctx, req)
		if err == nil && (reply == nil || strings.TrimSpace(reply.Content) == "") {
			err = ErrEmptyReply
		}
		if err != nil {
			g.logger.Warn("provider call failed", "provider", p.Name(), "model", p.Model(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if reply.Provider == "" {
			reply.Provider = p.Name()
		}
		if reply.Model == "" {
			reply.Model = p.Model()
		}
		return reply, nil
	}
	return nil, errors.Join(errs...)
}
