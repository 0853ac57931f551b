package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAI calls the OpenAI Responses API and requests JSON-schema output when
// the request carries a schema.
type OpenAI struct {
	name        string
	model       string
	maxTokens   int64
	temperature float64
	client      *openai.Client
}

// NewOpenAI constructs a Responses API provider.
func NewOpenAI(d ProviderDescriptor) (*OpenAI, error) {
	apiKey := strings.TrimSpace(d.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}
	if d.Model == "" {
		return nil, errors.New("openai: model required")
	}

	// Retries are the caller's policy, not the SDK's.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if d.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(d.Endpoint))
	}
	client := openai.NewClient(opts...)

	return &OpenAI{
		name:        nameOr(d.Name, KindOpenAI),
		model:       d.Model,
		maxTokens:   maxTokensOrDefault(d.MaxTokens),
		temperature: d.Temperature,
		client:      &client,
	}, nil
}

func (p *OpenAI) Name() string  { return p.name }
func (p *OpenAI) Model() string { return p.model }

// Send issues one Responses API call.
func (p *OpenAI) Send(ctx context.Context, req Request) (*Reply, error) {
	system, rest := splitSystem(req.Messages)

	items := make([]responses.ResponseInputItemUnionParam, 0, len(rest))
	for _, m := range rest {
		role := responses.EasyInputMessageRoleUser
		if m.Role == RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, role))
	}

	params := responses.ResponseNewParams{
		Model:           p.model,
		MaxOutputTokens: openai.Int(p.maxTokens),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}
	if req.Schema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        req.Schema.Name,
					Schema:      req.Schema.Definition,
					Strict:      openai.Bool(true),
					Description: openai.String(req.Schema.Description),
					Type:        "json_schema",
				},
			},
		}
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return &Reply{Content: resp.OutputText(), Provider: p.name, Model: p.model}, nil
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
