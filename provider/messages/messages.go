// Package messages implements relay.Provider for Anthropic-style messages
// APIs. The protocol is non-streaming: the adapter emits one final text
// chunk into the delta channel.
package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relay"
)

const (
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
)

// Provider implements relay.Provider for a messages-style backend.
type Provider struct {
	id         relay.ProviderID
	defaultURL string
	client     *http.Client
	models     []relay.ModelDescriptor
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithModels sets the static model catalog the adapter reports. The
// messages protocol has no models endpoint worth depending on.
func WithModels(models []relay.ModelDescriptor) Option {
	return func(p *Provider) { p.models = models }
}

// New creates a messages-style adapter.
func New(id relay.ProviderID, defaultURL string, opts ...Option) *Provider {
	p := &Provider{
		id:         id,
		defaultURL: defaultURL,
		client:     &http.Client{},
		models: []relay.ModelDescriptor{
			{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextWindow: 200_000, MaxTokens: 8192, Modalities: []string{"text", "image"}},
			{ID: "claude-haiku-3-5", Name: "Claude Haiku 3.5", ContextWindow: 200_000, MaxTokens: 8192, Modalities: []string{"text", "image"}},
			{ID: "claude-opus-4", Name: "Claude Opus 4", ContextWindow: 200_000, MaxTokens: 8192, Modalities: []string{"text", "image"}},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identity.
func (p *Provider) Name() relay.ProviderID { return p.id }

// ResolveBaseURL prefers the credential's base URL over the adapter default.
func (p *Provider) ResolveBaseURL(cred relay.Credential) string {
	if cred.BaseURL != "" {
		return cred.BaseURL
	}
	return p.defaultURL
}

// ListModels returns the static catalog.
func (p *Provider) ListModels(_ context.Context, _ relay.Credential) ([]relay.ModelDescriptor, error) {
	out := make([]relay.ModelDescriptor, len(p.models))
	copy(out, p.models)
	return out, nil
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type response struct {
	Content []contentBlock `json:"content"`
	// Fallback fields some gateways use instead of content blocks.
	Reply     string     `json:"reply"`
	StatusMsg string     `json:"status_msg"`
	Usage     *usageBody `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usageBody struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Invoke sends POST {baseURL}/v1/messages and emits the joined text blocks
// as a single final chunk.
func (p *Provider) Invoke(ctx context.Context, cred relay.Credential, model relay.ModelDescriptor, prompt string, opts relay.InvokeOptions, ch chan<- relay.StreamEvent) (relay.InvokeResult, error) {
	defer close(ch)

	maxTokens := defaultMaxTokens
	if model.MaxTokens > 0 && model.MaxTokens < maxTokens {
		maxTokens = model.MaxTokens
	}
	if opts.MaxTokens > 0 && opts.MaxTokens < maxTokens {
		maxTokens = opts.MaxTokens
	}

	body := request{
		Model:     model.ID,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.ResolveBaseURL(cred) + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", cred.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return relay.InvokeResult{}, &relay.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: relay.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return relay.InvokeResult{}, &relay.ErrProtocol{Provider: p.id, Message: fmt.Sprintf("decode response: %v", err)}
	}

	text := joinText(parsed)
	if text == "" {
		return relay.InvokeResult{}, &relay.ErrProtocol{Provider: p.id, Message: "empty response"}
	}

	select {
	case ch <- relay.StreamEvent{Type: relay.EventTextDelta, Content: text}:
	case <-ctx.Done():
		return relay.InvokeResult{}, ctx.Err()
	}

	var usage relay.TokenUsage
	if parsed.Usage != nil {
		usage.PromptTokens = parsed.Usage.InputTokens
		usage.CompletionTokens = parsed.Usage.OutputTokens
	}
	return relay.InvokeResult{Text: text, Usage: relay.EstimateUsage(usage, prompt, text)}, nil
}

// joinText concatenates the text blocks, falling back to the flat reply and
// status_msg fields some gateways return.
func joinText(r response) string {
	var parts []string
	for _, block := range r.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) > 0 {
		return strings.TrimLeft(strings.Join(parts, ""), " \t\n\r")
	}
	if r.Reply != "" {
		return strings.TrimSpace(r.Reply)
	}
	return strings.TrimSpace(r.StatusMsg)
}

// Compile-time interface check.
var _ relay.Provider = (*Provider)(nil)
