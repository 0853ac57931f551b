package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeProvider struct {
	name    string
	content string
	err     error
	calls   int
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func (f *fakeProvider) Send(_ context.Context, _ Request) (*Reply, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Reply{Content: f.content}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayFallsBackInOrder(t *testing.T) {
	first := &fakeProvider{name: "first", err: errors.New("boom")}
	second := &fakeProvider{name: "second", content: "   "}
	third := &fakeProvider{name: "third", content: `{"ok":true}`}
	fourth := &fakeProvider{name: "fourth", content: "unused"}

	gw := NewGateway([]Provider{first, second, third, fourth}, quietLogger())
	reply, err := gw.Send(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Provider != "third" || reply.Model != "third-model" {
		t.Fatalf("reply from %s/%s, want third/third-model", reply.Provider, reply.Model)
	}
	if fourth.calls != 0 {
		t.Fatalf("fourth provider called %d times, want 0", fourth.calls)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}
}

func TestGatewayAllFail(t *testing.T) {
	gw := NewGateway([]Provider{
		&fakeProvider{name: "a", err: errors.New("down")},
		&fakeProvider{name: "b", content: ""},
	}, quietLogger())

	_, err := gw.Send(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error when every provider fails")
	}
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("error %v should wrap ErrEmptyReply", err)
	}
}

func TestGatewayNoProviders(t *testing.T) {
	_, err := NewGateway(nil, quietLogger()).Send(context.Background(), Request{})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("error = %v, want ErrNoProviders", err)
	}
}

func TestGatewayStopsOnCancelledContext(t *testing.T) {
	p := &fakeProvider{name: "a", content: "x"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGateway([]Provider{p}, quietLogger()).Send(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times after cancel", p.calls)
	}
}

func TestNewProviderRejectsUnknownKind(t *testing.T) {
	_, err := NewProvider(ProviderDescriptor{Name: "x", Kind: "carrier-pigeon"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("error = %v, want ErrUnknownKind", err)
	}
}

func TestCompatibleProviderRoundTrip(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"acknowledgment\":\"hi\"}"}}]
		}`)
	}))
	defer srv.Close()

	gw, err := FromDescriptors([]ProviderDescriptor{{
		Name:     "router",
		Kind:     KindCompatible,
		Endpoint: srv.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	}}, quietLogger())
	if err != nil {
		t.Fatalf("FromDescriptors() error = %v", err)
	}

	reply, err := gw.Send(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be kind"},
			{Role: RoleUser, Content: "hello"},
		},
		Schema: &Schema{Name: "Out", Definition: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Content != `{"acknowledgment":"hi"}` {
		t.Fatalf("content = %q", reply.Content)
	}
	if reply.Provider != "router" || reply.Model != "test-model" {
		t.Fatalf("reply from %s/%s", reply.Provider, reply.Model)
	}
	for _, want := range []string{`"be kind"`, `"hello"`, `"json_object"`} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %s: %s", want, body)
		}
	}
	if got := gw.Names(); len(got) != 1 || got[0] != "router" {
		t.Fatalf("Names() = %v", got)
	}
}

func TestAnthropicProviderRoundTrip(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"reframe\":"}, {"type": "text", "text": "\"x\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`)
	}))
	defer srv.Close()

	p, err := NewAnthropic(ProviderDescriptor{Name: "anthropic", Endpoint: srv.URL, APIKey: "k", Model: "claude-test"})
	if err != nil {
		t.Fatalf("NewAnthropic() error = %v", err)
	}
	reply, err := p.Send(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "system rules"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "earlier"},
		{Role: RoleUser, Content: "again"},
	}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Content != `{"reframe":"x"}` {
		t.Fatalf("content = %q", reply.Content)
	}
	if !strings.Contains(body, `"system rules"`) || !strings.Contains(body, `"assistant"`) {
		t.Fatalf("request body = %s", body)
	}
}

func TestProviderConstructorsValidate(t *testing.T) {
	if _, err := NewOpenAI(ProviderDescriptor{Model: "m"}); err == nil {
		t.Error("NewOpenAI without key should fail")
	}
	if _, err := NewCompatible(ProviderDescriptor{APIKey: "k", Model: "m"}); err == nil {
		t.Error("NewCompatible without endpoint should fail")
	}
	if _, err := NewAnthropic(ProviderDescriptor{APIKey: "k"}); err == nil {
		t.Error("NewAnthropic without model should fail")
	}
}
