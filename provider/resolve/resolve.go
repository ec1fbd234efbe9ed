// Package resolve turns provider identifiers into ready-to-use adapters,
// credentials and model lists. Credentials come from environment variables
// first, then from the keychain file under the state directory; model
// lists are cached with a TTL so the router can rebuild candidates per
// prompt without hammering the list endpoints.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"relay"
	"relay/provider/execbin"
	"relay/provider/genlang"
	"relay/provider/messages"
	"relay/provider/openaicompat"
)

const (
	defaultModelTTL  = 10 * time.Minute
	modelCacheSize   = 16
	credFileBaseName = "credentials.json"
)

// storedCredential is one entry in the keychain file.
type storedCredential struct {
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseUrl,omitempty"`
	Project   string `json:"project,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

type modelEntry struct {
	models   []relay.ModelDescriptor
	storedAt time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCredentialsPath overrides the keychain file location.
// Default: ~/.relay/store/credentials.json.
func WithCredentialsPath(path string) Option {
	return func(r *Resolver) { r.credPath = path }
}

// WithExecBinary sets the runtime binary path for the coder provider.
// Without it the coder provider resolves as unauthenticated.
func WithExecBinary(path string) Option {
	return func(r *Resolver) { r.execBin = path }
}

// WithModelTTL sets how long a cached model list stays valid. Default: 10m.
func WithModelTTL(d time.Duration) Option {
	return func(r *Resolver) { r.modelTTL = d }
}

// WithAdapter injects a pre-built adapter for a provider, replacing the
// default construction. Used by tests and by callers that need custom
// HTTP clients.
func WithAdapter(id relay.ProviderID, p relay.Provider) Option {
	return func(r *Resolver) { r.adapters[id] = p }
}

// Resolver resolves providers to adapters, credentials and models.
type Resolver struct {
	credPath string
	execBin  string
	modelTTL time.Duration

	mu       sync.Mutex
	adapters map[relay.ProviderID]relay.Provider
	models   *lru.Cache[relay.ProviderID, modelEntry]
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		modelTTL: defaultModelTTL,
		adapters: make(map[relay.ProviderID]relay.Provider),
	}
	for _, o := range opts {
		o(r)
	}
	if r.credPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			r.credPath = filepath.Join(home, ".relay", "store", credFileBaseName)
		}
	}
	cache, err := lru.New[relay.ProviderID, modelEntry](modelCacheSize)
	if err == nil {
		r.models = cache
	}
	return r
}

// Credential resolves the credential for a provider. Environment variables
// win over the keychain file; an expired entry counts as absent.
func (r *Resolver) Credential(id relay.ProviderID) (relay.Credential, error) {
	if id == relay.ProviderCoder {
		if r.execBin == "" {
			return relay.Credential{}, &relay.ErrAuth{Provider: id}
		}
		return relay.Credential{BaseURL: r.execBin}, nil
	}

	if key := envAPIKey(id); key != "" {
		return relay.Credential{
			APIKey:  key,
			BaseURL: os.Getenv(envPrefix(id) + "_BASE_URL"),
			Project: os.Getenv(envPrefix(id) + "_PROJECT"),
		}, nil
	}

	stored, ok := r.fromFile(id)
	if !ok {
		return relay.Credential{}, &relay.ErrAuth{Provider: id}
	}
	cred := relay.Credential{
		APIKey:    stored.APIKey,
		BaseURL:   stored.BaseURL,
		Project:   stored.Project,
		ExpiresAt: stored.ExpiresAt,
	}
	if cred.Expired(time.Now().Unix()) {
		return relay.Credential{}, &relay.ErrAuth{Provider: id}
	}
	return cred, nil
}

// Adapter returns the wire adapter for a provider, constructing and
// memoizing it on first use.
func (r *Resolver) Adapter(id relay.ProviderID) (relay.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.adapters[id]; ok {
		return p, nil
	}

	var p relay.Provider
	switch id.Wire() {
	case relay.WireOpenAICompat:
		p = openaicompat.New(id, defaultBaseURL(id))
	case relay.WireMessages:
		p = messages.New(id, defaultBaseURL(id))
	case relay.WireGenLang:
		p = genlang.New(id)
	case relay.WireExec:
		p = execbin.New(r.execBin)
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", id)
	}
	r.adapters[id] = p
	return p, nil
}

// Models returns the model list for a provider, from cache when fresh.
func (r *Resolver) Models(ctx context.Context, id relay.ProviderID) ([]relay.ModelDescriptor, error) {
	if r.models != nil {
		if entry, ok := r.models.Get(id); ok {
			if time.Since(entry.storedAt) < r.modelTTL {
				return entry.models, nil
			}
			r.models.Remove(id)
		}
	}

	cred, err := r.Credential(id)
	if err != nil {
		return nil, err
	}
	adapter, err := r.Adapter(id)
	if err != nil {
		return nil, err
	}
	models, err := adapter.ListModels(ctx, cred)
	if err != nil {
		return nil, err
	}
	if r.models != nil {
		r.models.Add(id, modelEntry{models: models, storedAt: time.Now()})
	}
	return models, nil
}

// Resolve builds a RouteCandidate for a provider. With an empty modelID the
// first catalog entry is used; an unknown modelID is an error.
func (r *Resolver) Resolve(ctx context.Context, id relay.ProviderID, modelID string) (relay.RouteCandidate, error) {
	cred, err := r.Credential(id)
	if err != nil {
		return relay.RouteCandidate{}, err
	}
	adapter, err := r.Adapter(id)
	if err != nil {
		return relay.RouteCandidate{}, err
	}
	models, err := r.Models(ctx, id)
	if err != nil {
		return relay.RouteCandidate{}, err
	}
	if len(models) == 0 {
		return relay.RouteCandidate{}, &relay.ErrLLM{Provider: id, Message: "no models available"}
	}

	model := models[0]
	if modelID != "" {
		found := false
		for _, m := range models {
			if strings.EqualFold(m.ID, modelID) || strings.EqualFold(m.Name, modelID) {
				model = m
				found = true
				break
			}
		}
		if !found {
			return relay.RouteCandidate{}, &relay.ErrLLM{Provider: id, Message: fmt.Sprintf("model %q not available", modelID)}
		}
	}

	return relay.RouteCandidate{
		Provider: id,
		Model:    model,
		Cred:     cred,
		BaseURL:  adapter.ResolveBaseURL(cred),
	}, nil
}

// InvalidateModels drops the cached model list for a provider.
func (r *Resolver) InvalidateModels(id relay.ProviderID) {
	if r.models != nil {
		r.models.Remove(id)
	}
}

func (r *Resolver) fromFile(id relay.ProviderID) (storedCredential, bool) {
	if r.credPath == "" {
		return storedCredential{}, false
	}
	raw, err := os.ReadFile(r.credPath)
	if err != nil {
		return storedCredential{}, false
	}
	var file map[string]storedCredential
	if err := json.Unmarshal(raw, &file); err != nil {
		return storedCredential{}, false
	}
	stored, ok := file[string(id)]
	if !ok || stored.APIKey == "" {
		return storedCredential{}, false
	}
	return stored, true
}

// envAPIKey checks RELAY_<PROVIDER>_API_KEY first, then the vendor's
// conventional variable name.
func envAPIKey(id relay.ProviderID) string {
	if key := os.Getenv(envPrefix(id) + "_API_KEY"); key != "" {
		return key
	}
	switch id {
	case relay.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case relay.ProviderGroq:
		return os.Getenv("GROQ_API_KEY")
	case relay.ProviderDeepSeek:
		return os.Getenv("DEEPSEEK_API_KEY")
	case relay.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case relay.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case relay.ProviderMistral:
		return os.Getenv("MISTRAL_API_KEY")
	}
	return ""
}

func envPrefix(id relay.ProviderID) string {
	return "RELAY_" + strings.ToUpper(string(id))
}

func defaultBaseURL(id relay.ProviderID) string {
	switch id {
	case relay.ProviderOpenAI:
		return "https://api.openai.com/v1"
	case relay.ProviderGroq:
		return "https://api.groq.com/openai/v1"
	case relay.ProviderDeepSeek:
		return "https://api.deepseek.com/v1"
	case relay.ProviderMistral:
		return "https://api.mistral.ai/v1"
	case relay.ProviderAnthropic:
		return "https://api.anthropic.com"
	default:
		return ""
	}
}
