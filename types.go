package relay

// WireKind identifies the wire protocol an adapter speaks.
type WireKind string

const (
	// WireOpenAICompat is the OpenAI chat/completions SSE protocol.
	WireOpenAICompat WireKind = "openai-compat"
	// WireMessages is the Anthropic-style non-streaming messages protocol.
	WireMessages WireKind = "messages"
	// WireGenLang is the Google generative-language SSE protocol.
	WireGenLang WireKind = "genlang"
	// WireExec is a local runtime binary spawned per request.
	WireExec WireKind = "exec"
)

// ProviderID identifies one of the supported providers.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderGroq      ProviderID = "groq"
	ProviderDeepSeek  ProviderID = "deepseek"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
	ProviderMistral   ProviderID = "mistral"
	ProviderCoder     ProviderID = "coder"
)

// providerInfo carries the static facts attached to a ProviderID.
type providerInfo struct {
	wire      WireKind
	costPer1K float64
	display   string
}

var providers = map[ProviderID]providerInfo{
	ProviderOpenAI:    {WireOpenAICompat, 0.0025, "OpenAI"},
	ProviderGroq:      {WireOpenAICompat, 0.0004, "Groq"},
	ProviderDeepSeek:  {WireOpenAICompat, 0.0006, "DeepSeek"},
	ProviderAnthropic: {WireMessages, 0.0040, "Anthropic"},
	ProviderGemini:    {WireGenLang, 0.0020, "Gemini"},
	ProviderMistral:   {WireOpenAICompat, 0.0010, "Mistral"},
	ProviderCoder:     {WireExec, 0, "Coder"},
}

// AllProviders lists every known provider in a stable order.
func AllProviders() []ProviderID {
	return []ProviderID{
		ProviderOpenAI, ProviderGroq, ProviderDeepSeek,
		ProviderAnthropic, ProviderGemini, ProviderMistral,
		ProviderCoder,
	}
}

// Known reports whether id names a supported provider.
func (id ProviderID) Known() bool {
	_, ok := providers[id]
	return ok
}

// Wire returns the wire protocol the provider speaks.
func (id ProviderID) Wire() WireKind { return providers[id].wire }

// CostPer1K returns the blended USD price per 1000 tokens.
func (id ProviderID) CostPer1K() float64 { return providers[id].costPer1K }

// Display returns the human-readable provider name.
func (id ProviderID) Display() string {
	if info, ok := providers[id]; ok {
		return info.display
	}
	return string(id)
}

// ParseProvider maps a user-supplied name (including legacy aliases) to a
// ProviderID. Returns false when the name is unknown.
func ParseProvider(name string) (ProviderID, bool) {
	switch normalizeName(name) {
	case "openai", "oai", "gpt":
		return ProviderOpenAI, true
	case "groq":
		return ProviderGroq, true
	case "deepseek", "ds":
		return ProviderDeepSeek, true
	case "anthropic", "claude":
		return ProviderAnthropic, true
	case "gemini", "google":
		return ProviderGemini, true
	case "mistral":
		return ProviderMistral, true
	case "coder", "codex", "exec":
		return ProviderCoder, true
	}
	return "", false
}

// ModelDescriptor describes one model offered by a provider adapter.
type ModelDescriptor struct {
	ID            string
	Name          string
	ContextWindow int
	MaxTokens     int
	// Modalities lists accepted input kinds, a subset of {"text","image"}.
	Modalities []string
}

// SupportsImages reports whether the model accepts image input.
func (m ModelDescriptor) SupportsImages() bool {
	for _, mod := range m.Modalities {
		if mod == "image" {
			return true
		}
	}
	return false
}

// Credential is an opaque handle to provider authentication material.
// Adapters re-resolve expired credentials before use.
type Credential struct {
	APIKey    string
	BaseURL   string
	Project   string
	ExpiresAt int64 // unix seconds; 0 = never expires
}

// Expired reports whether the credential is past its expiry.
func (c Credential) Expired(nowUnix int64) bool {
	return c.ExpiresAt != 0 && nowUnix >= c.ExpiresAt
}

// RouteCandidate is a (provider, model, credential) triple able to handle
// one prompt. Built per request and discarded after the request completes.
type RouteCandidate struct {
	Provider ProviderID
	Model    ModelDescriptor
	Cred     Credential
	BaseURL  string
}

// Actor returns the "<Provider>: <model>" label used in live activity lines.
func (c RouteCandidate) Actor() string {
	name := c.Model.Name
	if name == "" {
		name = c.Model.ID
	}
	return c.Provider.Display() + ": " + name
}

// TokenUsage counts tokens for one provider invocation.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// StreamEventType discriminates StreamEvent values.
type StreamEventType int

const (
	// EventTextDelta carries an incremental span of response text.
	EventTextDelta StreamEventType = iota
	// EventProgress carries a progress/status line from a long-running adapter.
	EventProgress
)

// StreamEvent is one unit of adapter output pushed through the delta channel.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// InvokeOptions tunes a single adapter invocation.
type InvokeOptions struct {
	// MaxTokens caps the completion length; 0 means the adapter default.
	MaxTokens int
	// Progress receives status lines from adapters that produce them
	// (subprocess runtimes). May be nil.
	Progress func(line string)
}

func normalizeName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' || c == '-' || c == '_' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
