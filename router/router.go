// Package router builds an ordered candidate list for a prompt and drives
// provider adapters with cooldown-aware failover. Deltas from the winning
// adapter are forwarded to the caller through a single channel; failures
// that match a fallback-worthy pattern move on to the next candidate.
package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"relay"
	"relay/sched"
)

// balancedOrder is the auto-routing order when no domain keyword matches.
var balancedOrder = []relay.ProviderID{
	relay.ProviderGroq,
	relay.ProviderDeepSeek,
	relay.ProviderMistral,
	relay.ProviderOpenAI,
	relay.ProviderGemini,
	relay.ProviderAnthropic,
}

// domainOrders map prompt keywords to a provider priority. First match wins.
var domainOrders = []struct {
	keywords []string
	order    []relay.ProviderID
}{
	{
		keywords: []string{"design", "ui", "ux", "layout", "wireframe", "visual", "logo"},
		order:    []relay.ProviderID{relay.ProviderGemini, relay.ProviderMistral, relay.ProviderDeepSeek, relay.ProviderOpenAI},
	},
	{
		keywords: []string{"research", "analyze", "analysis", "compare", "benchmark", "study", "investigate"},
		order:    []relay.ProviderID{relay.ProviderOpenAI, relay.ProviderDeepSeek, relay.ProviderAnthropic, relay.ProviderGemini},
	},
	{
		keywords: []string{"code", "coding", "refactor", "debug", "implement", "function", "compile", "bug"},
		order:    []relay.ProviderID{relay.ProviderCoder, relay.ProviderMistral, relay.ProviderDeepSeek, relay.ProviderOpenAI},
	},
}

// defaultFallbackPatterns classify an error as fallback-worthy. The list is
// configurable because upstream error strings vary by provider and locale.
var defaultFallbackPatterns = []string{
	"rate limit",
	"rate_limit",
	"quota",
	"context length",
	"context_length",
	"429",
	"overloaded",
	"temporarily unavailable",
	"model not available",
	"insufficient_quota",
	"no models available",
	"empty response",
}

// CandidateResolver resolves a provider to a ready RouteCandidate and its
// wire adapter. *resolve.Resolver satisfies this.
type CandidateResolver interface {
	Resolve(ctx context.Context, id relay.ProviderID, modelID string) (relay.RouteCandidate, error)
	Adapter(id relay.ProviderID) (relay.Provider, error)
}

// Result is the outcome of a successful Route call.
type Result struct {
	Text      string
	Usage     relay.TokenUsage
	Provider  relay.ProviderID
	Model     relay.ModelDescriptor
	LatencyMs int64
	Attempts  int
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTelemetry sets the telemetry sink for per-attempt records.
func WithTelemetry(t *sched.Telemetry) Option {
	return func(r *Router) { r.telemetry = t }
}

// WithActivity sets a hook called with "Provider: model" before each
// attempt, for live status surfaces.
func WithActivity(fn func(actor string)) Option {
	return func(r *Router) { r.activity = fn }
}

// WithLastUsedSink sets a hook called after a success so the caller can
// persist the winning pair.
func WithLastUsedSink(fn func(provider relay.ProviderID, modelID string)) Option {
	return func(r *Router) { r.lastUsedSink = fn }
}

// WithFallbackPatterns replaces the fallback-worthy pattern table.
func WithFallbackPatterns(patterns []string) Option {
	return func(r *Router) {
		if len(patterns) > 0 {
			r.fallbackPatterns = patterns
		}
	}
}

// Router routes prompts across providers with failover.
type Router struct {
	resolver         CandidateResolver
	telemetry        *sched.Telemetry
	cooldown         *cooldownMap
	fallbackPatterns []string
	activity         func(actor string)
	lastUsedSink     func(provider relay.ProviderID, modelID string)
	log              *slog.Logger
}

// New creates a Router on top of a candidate resolver.
func New(resolver CandidateResolver, opts ...Option) *Router {
	r := &Router{
		resolver:         resolver,
		cooldown:         newCooldownMap(),
		fallbackPatterns: defaultFallbackPatterns,
		log:              nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// autoOrder picks the provider priority for a prompt.
func autoOrder(prompt string) []relay.ProviderID {
	lower := strings.ToLower(prompt)
	for _, domain := range domainOrders {
		for _, kw := range domain.keywords {
			if strings.Contains(lower, kw) {
				return domain.order
			}
		}
	}
	return balancedOrder
}

// providerOrder applies override and default-provider pinning on top of the
// auto order.
func providerOrder(prompt string, cfg Config) []relay.ProviderID {
	if cfg.SelectedOverride.Enabled {
		if id, ok := relay.ParseProvider(cfg.SelectedOverride.Provider); ok {
			return []relay.ProviderID{id}
		}
	}
	if cfg.DefaultProvider != "" && cfg.DefaultProvider != autoProvider {
		if id, ok := relay.ParseProvider(cfg.DefaultProvider); ok {
			return []relay.ProviderID{id}
		}
	}
	return autoOrder(prompt)
}

// BuildCandidates resolves the provider order into concrete candidates,
// dropping providers without credentials or models and demoting cooling
// providers to the tail.
func (r *Router) BuildCandidates(ctx context.Context, prompt string, cfg Config) []relay.RouteCandidate {
	var cands []relay.RouteCandidate
	for _, id := range providerOrder(prompt, cfg) {
		cand, err := r.resolver.Resolve(ctx, id, cfg.fixedModelFor(id))
		if err != nil {
			r.log.Debug("candidate dropped", "provider", id, "err", err)
			continue
		}
		cands = append(cands, cand)
	}
	return r.cooldown.demote(cands)
}

// Route sends the prompt to the best available candidate, falling back on
// quota/overload-class failures. Text deltas are forwarded to ch in arrival
// order; ch is closed before Route returns. When a candidate fails after
// deltas already reached the caller, Route aborts instead of duplicating
// output through the next candidate.
func (r *Router) Route(ctx context.Context, prompt string, cfg Config, schedCfg sched.Config, ch chan<- relay.StreamEvent) (Result, error) {
	defer close(ch)

	cands := r.BuildCandidates(ctx, prompt, cfg)
	if len(cands) == 0 {
		return Result{}, &relay.ErrAuth{}
	}
	cands = sched.Reorder(cands, prompt, schedCfg)

	autoRouting := !cfg.SelectedOverride.Enabled &&
		(cfg.DefaultProvider == "" || cfg.DefaultProvider == autoProvider)

	var lastErr error
	for attempt, cand := range cands {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if r.activity != nil {
			r.activity(cand.Actor())
		}

		adapter, err := r.resolver.Adapter(cand.Provider)
		if err != nil {
			lastErr = err
			continue
		}

		inner := make(chan relay.StreamEvent, 16)
		forwarded := make(chan int, 1)
		go func() {
			deltas := 0
			for ev := range inner {
				if ev.Type == relay.EventTextDelta {
					deltas++
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
				}
			}
			forwarded <- deltas
		}()

		started := time.Now()
		result, err := adapter.Invoke(ctx, cand.Cred, cand.Model, prompt, relay.InvokeOptions{}, inner)
		latency := time.Since(started).Milliseconds()
		deltasSent := <-forwarded

		r.record(cand, result.Usage, latency, err == nil)

		if err == nil {
			r.cooldown.clear(cand.Provider)
			if r.lastUsedSink != nil {
				r.lastUsedSink(cand.Provider, cand.Model.ID)
			}
			r.log.Debug("routed", "provider", cand.Provider, "model", cand.Model.ID, "latencyMs", latency)
			return Result{
				Text:      result.Text,
				Usage:     result.Usage,
				Provider:  cand.Provider,
				Model:     cand.Model,
				LatencyMs: latency,
				Attempts:  attempt + 1,
			}, nil
		}

		lastErr = err
		r.log.Warn("candidate failed", "provider", cand.Provider, "model", cand.Model.ID, "err", err)

		if deltasSent > 0 {
			return Result{}, err
		}
		if r.fallbackWorthy(err) || autoRouting {
			r.cooldown.mark(cand.Provider)
			continue
		}
		return Result{}, err
	}
	return Result{}, lastErr
}

func (r *Router) record(cand relay.RouteCandidate, usage relay.TokenUsage, latencyMs int64, success bool) {
	if r.telemetry == nil {
		return
	}
	entry := sched.TelemetryEntry{
		Provider:         cand.Provider,
		ModelID:          cand.Model.ID,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		EstUSDCost:       sched.EstimateCost(cand.Provider, usage),
		LatencyMs:        latencyMs,
		Success:          success,
	}
	if err := r.telemetry.Record(entry); err != nil {
		r.log.Warn("telemetry record failed", "err", err)
	}
}

func (r *Router) fallbackWorthy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range r.fallbackPatterns {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}
