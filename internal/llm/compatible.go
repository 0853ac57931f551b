package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Compatible calls any OpenAI-compatible Chat Completions endpoint
// (OpenRouter, local gateways). Schemas are requested as JSON-object mode
// since strict schema support varies between hosts.
type Compatible struct {
	name        string
	model       string
	maxTokens   int64
	temperature float64
	client      *openai.Client
}

// NewCompatible constructs a Chat Completions provider.
func NewCompatible(d ProviderDescriptor) (*Compatible, error) {
	apiKey := strings.TrimSpace(d.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai-compatible: api key required")
	}
	if d.Endpoint == "" {
		return nil, errors.New("openai-compatible: endpoint required")
	}
	if d.Model == "" {
		return nil, errors.New("openai-compatible: model required")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(d.Endpoint),
		option.WithMaxRetries(0),
	)
	return &Compatible{
		name:        nameOr(d.Name, KindCompatible),
		model:       d.Model,
		maxTokens:   maxTokensOrDefault(d.MaxTokens),
		temperature: d.Temperature,
		client:      &client,
	}, nil
}

func (p *Compatible) Name() string  { return p.name }
func (p *Compatible) Model() string { return p.model }

// Send issues one Chat Completions call.
func (p *Compatible) Send(ctx context.Context, req Request) (*Reply, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(p.model),
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(p.maxTokens),
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyReply
	}
	model := completion.Model
	if model == "" {
		model = p.model
	}
	return &Reply{Content: completion.Choices[0].Message.Content, Provider: p.name, Model: model}, nil
}
