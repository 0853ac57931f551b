package llm

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// Anthropic calls the Messages API. Schemas are not enforced server side;
// the schema description is appended to the system prompt instead.
type Anthropic struct {
	name        string
	model       string
	maxTokens   int64
	temperature float64
	client      *anthropicsdk.Client
}

// NewAnthropic constructs a Messages API provider.
func NewAnthropic(d ProviderDescriptor) (*Anthropic, error) {
	apiKey := strings.TrimSpace(d.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	if d.Model == "" {
		return nil, errors.New("anthropic: model required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if d.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(d.Endpoint))
	}
	client := anthropicsdk.NewClient(opts...)

	return &Anthropic{
		name:        nameOr(d.Name, KindAnthropic),
		model:       d.Model,
		maxTokens:   maxTokensOrDefault(d.MaxTokens),
		temperature: d.Temperature,
		client:      &client,
	}, nil
}

func (p *Anthropic) Name() string  { return p.name }
func (p *Anthropic) Model() string { return p.model }

// Send issues one Messages API call.
func (p *Anthropic) Send(ctx context.Context, req Request) (*Reply, error) {
	system, rest := splitSystem(req.Messages)
	if req.Schema != nil {
		system += "\n\nRespond with a single JSON object only (" + req.Schema.Name + ")."
	}

	msgs := make([]anthropicsdk.MessageParam, 0, len(rest))
	for _, m := range rest {
		role := anthropicsdk.MessageParamRoleUser
		if m.Role == RoleAssistant {
			role = anthropicsdk.MessageParamRoleAssistant
		}
		text := m.Content
		if strings.TrimSpace(text) == "" {
			text = "."
		}
		msgs = append(msgs, anthropicsdk.MessageParam{
			Role:    role,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(text)},
		})
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  msgs,
	}
	if s := strings.TrimSpace(system); s != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: s}}
	}
	if p.temperature > 0 {
		params.Temperature = param.NewOpt(p.temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return &Reply{Content: strings.Join(parts, ""), Provider: p.name, Model: string(msg.Model)}, nil
}
