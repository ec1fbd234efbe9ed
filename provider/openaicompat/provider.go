// Package openaicompat implements relay.Provider for any OpenAI-compatible
// chat completions API.
//
// Works with OpenAI, Groq, DeepSeek, Mistral, and any other provider that
// implements the chat completions protocol with SSE streaming and the
// stream_options.include_usage extension.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"relay"
)

// maxTokensCap bounds completion length regardless of what the model allows.
const maxTokensCap = 4096

// Provider implements relay.Provider for one OpenAI-compatible backend.
type Provider struct {
	id         relay.ProviderID
	defaultURL string
	client     *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client (useful for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates an adapter for the given provider identity.
//
// defaultURL is the API base used when the credential carries none
// (e.g. "https://api.groq.com/openai/v1"). The /chat/completions path is
// appended automatically.
func New(id relay.ProviderID, defaultURL string, opts ...Option) *Provider {
	p := &Provider{
		id:         id,
		defaultURL: defaultURL,
		client:     &http.Client{},
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

// ListModels fetches GET {baseURL}/models. Callers cache the result; see
// provider/resolve.
func (p *Provider) ListModels(ctx context.Context, cred relay.Credential) ([]relay.ModelDescriptor, error) {
	url := p.ResolveBaseURL(cred) + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("list models: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, httpErr(resp)
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &relay.ErrProtocol{Provider: p.id, Message: fmt.Sprintf("decode models: %v", err)}
	}

	models := make([]relay.ModelDescriptor, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, relay.ModelDescriptor{
			ID:         m.ID,
			Name:       m.ID,
			MaxTokens:  maxTokensCap,
			Modalities: []string{"text"},
		})
	}
	return models, nil
}

// Invoke streams a chat completion for prompt into ch and returns the final
// accumulated response. ch is closed exactly once, by the stream reader.
func (p *Provider) Invoke(ctx context.Context, cred relay.Credential, model relay.ModelDescriptor, prompt string, opts relay.InvokeOptions, ch chan<- relay.StreamEvent) (relay.InvokeResult, error) {
	maxTokens := maxTokensCap
	if model.MaxTokens > 0 && model.MaxTokens < maxTokens {
		maxTokens = model.MaxTokens
	}
	if opts.MaxTokens > 0 && opts.MaxTokens < maxTokens {
		maxTokens = opts.MaxTokens
	}

	body := chatRequest{
		Model:         model.ID,
		Messages:      []chatMessage{{Role: "user", Content: prompt}},
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		MaxTokens:     maxTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		close(ch)
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.ResolveBaseURL(cred) + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		close(ch)
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if cred.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cred.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		close(ch)
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		close(ch)
		return relay.InvokeResult{}, httpErr(resp)
	}

	// streamSSE closes ch when done.
	result, err := streamSSE(ctx, p.id, resp.Body, ch)
	if err != nil {
		return relay.InvokeResult{}, err
	}
	if result.Text == "" {
		return relay.InvokeResult{}, &relay.ErrProtocol{Provider: p.id, Message: "empty response"}
	}
	result.Usage = relay.EstimateUsage(result.Usage, prompt, result.Text)
	return result, nil
}

// httpErr reads the response body and surfaces it as the error string, with
// the Retry-After header parsed for the router's fallback classifier.
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &relay.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: relay.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ relay.Provider = (*Provider)(nil)
