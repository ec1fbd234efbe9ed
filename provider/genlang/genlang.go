// Package genlang implements relay.Provider for the Google generative
// language internal streaming API.
package genlang

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relay"
)

// Endpoint fallback order after the credential's own choice.
const (
	dailyEndpoint = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	prodEndpoint  = "https://cloudcode-pa.googleapis.com"
)

// thinkingBetaHeader is injected for thinking variants of the claude-family
// models proxied through this endpoint.
const thinkingBetaHeader = "interleaved-thinking-2025-05-14"

// Provider implements relay.Provider for the generative-language SSE protocol.
type Provider struct {
	id     relay.ProviderID
	client *http.Client
	models []relay.ModelDescriptor
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithModels sets the static model catalog.
func WithModels(models []relay.ModelDescriptor) Option {
	return func(p *Provider) { p.models = models }
}

// New creates a generative-language adapter.
func New(id relay.ProviderID, opts ...Option) *Provider {
	p := &Provider{
		id:     id,
		client: &http.Client{},
		models: []relay.ModelDescriptor{
			{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextWindow: 1_000_000, MaxTokens: 8192, Modalities: []string{"text", "image"}},
			{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextWindow: 1_000_000, MaxTokens: 8192, Modalities: []string{"text", "image"}},
			{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite", ContextWindow: 1_000_000, MaxTokens: 8192, Modalities: []string{"text"}},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identity.
func (p *Provider) Name() relay.ProviderID { return p.id }

// ResolveBaseURL returns the credential's endpoint, defaulting to prod.
func (p *Provider) ResolveBaseURL(cred relay.Credential) string {
	if cred.BaseURL != "" {
		return cred.BaseURL
	}
	return prodEndpoint
}

// ListModels returns the static catalog.
func (p *Provider) ListModels(_ context.Context, _ relay.Credential) ([]relay.ModelDescriptor, error) {
	out := make([]relay.ModelDescriptor, len(p.models))
	copy(out, p.models)
	return out, nil
}

// Request envelope for POST {endpoint}/v1internal:streamGenerateContent?alt=sse.
type generateRequest struct {
	Project     string    `json:"project,omitempty"`
	Model       string    `json:"model"`
	Request     innerBody `json:"request"`
	RequestType string    `json:"requestType"`
	RequestID   string    `json:"requestId"`
}

type innerBody struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateChunk struct {
	Response struct {
		Candidates []struct {
			Content struct {
				Parts []part `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	} `json:"response"`
}

// Invoke streams a generation for prompt. The adapter walks the endpoint
// list (credential's choice, daily, prod) until one yields non-empty text;
// the last error is surfaced when all three come back empty or failing.
func (p *Provider) Invoke(ctx context.Context, cred relay.Credential, model relay.ModelDescriptor, prompt string, opts relay.InvokeOptions, ch chan<- relay.StreamEvent) (relay.InvokeResult, error) {
	defer close(ch)

	endpoints := endpointOrder(cred)
	var lastErr error
	for _, endpoint := range endpoints {
		result, sentAny, err := p.invokeOne(ctx, endpoint, cred, model, prompt, ch)
		if err == nil && result.Text != "" {
			result.Usage = relay.EstimateUsage(result.Usage, prompt, result.Text)
			return result, nil
		}
		if err != nil {
			lastErr = err
			// Once deltas reached the caller, switching endpoints would
			// duplicate output; surface the error instead.
			if sentAny {
				return relay.InvokeResult{}, err
			}
		} else {
			lastErr = &relay.ErrProtocol{Provider: p.id, Message: "empty response from " + endpoint}
		}
		if ctx.Err() != nil {
			return relay.InvokeResult{}, ctx.Err()
		}
	}
	return relay.InvokeResult{}, lastErr
}

// endpointOrder is the fallback chain, deduplicated, credential first.
func endpointOrder(cred relay.Credential) []string {
	order := make([]string, 0, 3)
	seen := map[string]bool{}
	for _, e := range []string{cred.BaseURL, dailyEndpoint, prodEndpoint} {
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		order = append(order, e)
	}
	return order
}

func (p *Provider) invokeOne(ctx context.Context, endpoint string, cred relay.Credential, model relay.ModelDescriptor, prompt string, ch chan<- relay.StreamEvent) (result relay.InvokeResult, sentAny bool, err error) {
	body := generateRequest{
		Project: cred.Project,
		Model:   model.ID,
		Request: innerBody{
			Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		},
		RequestType: "agent",
		RequestID:   relay.NewID(),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return relay.InvokeResult{}, false, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := endpoint + "/v1internal:streamGenerateContent?alt=sse"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return relay.InvokeResult{}, false, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)
	if isThinkingModel(model.ID) {
		req.Header.Set("anthropic-beta", thinkingBetaHeader)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return relay.InvokeResult{}, false, &relay.ErrLLM{Provider: p.id, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return relay.InvokeResult{}, false, &relay.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: relay.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var full strings.Builder
	var usage relay.TokenUsage
	firstVisible := true

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			continue
		}

		if meta := chunk.Response.UsageMetadata; meta != nil {
			usage.PromptTokens = meta.PromptTokenCount
			usage.CompletionTokens = meta.CandidatesTokenCount
			usage.TotalTokens = meta.TotalTokenCount
		}

		if len(chunk.Response.Candidates) == 0 {
			continue
		}
		for _, pt := range chunk.Response.Candidates[0].Content.Parts {
			text := pt.Text
			if text == "" {
				continue
			}
			if firstVisible {
				text = strings.TrimLeft(text, " \t\n\r")
				if text == "" {
					continue
				}
				firstVisible = false
			}
			full.WriteString(text)
			select {
			case ch <- relay.StreamEvent{Type: relay.EventTextDelta, Content: text}:
				sentAny = true
			case <-ctx.Done():
				return relay.InvokeResult{}, sentAny, ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return relay.InvokeResult{}, sentAny, &relay.ErrProtocol{Provider: p.id, Message: "read stream: " + err.Error()}
	}

	return relay.InvokeResult{Text: full.String(), Usage: usage}, sentAny, nil
}

// isThinkingModel matches the thinking variants of the claude model family
// proxied through this endpoint.
func isThinkingModel(id string) bool {
	lower := strings.ToLower(id)
	return strings.Contains(lower, "thinking") ||
		(strings.Contains(lower, "claude") && strings.Contains(lower, "-t"))
}

// Compile-time interface check.
var _ relay.Provider = (*Provider)(nil)
