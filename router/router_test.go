package router

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"relay"
	"relay/sched"
)

type scriptedAdapter struct {
	id     relay.ProviderID
	text   string
	err    error
	deltas []string // streamed before err, if any
	calls  int
}

func (a *scriptedAdapter) Name() relay.ProviderID { return a.id }

func (a *scriptedAdapter) ListModels(_ context.Context, _ relay.Credential) ([]relay.ModelDescriptor, error) {
	return []relay.ModelDescriptor{{ID: string(a.id) + "-model"}}, nil
}

func (a *scriptedAdapter) ResolveBaseURL(_ relay.Credential) string { return "" }

func (a *scriptedAdapter) Invoke(_ context.Context, _ relay.Credential, _ relay.ModelDescriptor, _ string, _ relay.InvokeOptions, ch chan<- relay.StreamEvent) (relay.InvokeResult, error) {
	defer close(ch)
	a.calls++
	for _, d := range a.deltas {
		ch <- relay.StreamEvent{Type: relay.EventTextDelta, Content: d}
	}
	if a.err != nil {
		return relay.InvokeResult{}, a.err
	}
	ch <- relay.StreamEvent{Type: relay.EventTextDelta, Content: a.text}
	return relay.InvokeResult{Text: a.text, Usage: relay.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

type fakeResolver struct {
	adapters map[relay.ProviderID]*scriptedAdapter
}

func (f *fakeResolver) Resolve(_ context.Context, id relay.ProviderID, modelID string) (relay.RouteCandidate, error) {
	a, ok := f.adapters[id]
	if !ok {
		return relay.RouteCandidate{}, &relay.ErrAuth{Provider: id}
	}
	model := relay.ModelDescriptor{ID: string(id) + "-model"}
	if modelID != "" {
		model.ID = modelID
	}
	return relay.RouteCandidate{Provider: a.id, Model: model}, nil
}

func (f *fakeResolver) Adapter(id relay.ProviderID) (relay.Provider, error) {
	a, ok := f.adapters[id]
	if !ok {
		return nil, &relay.ErrAuth{Provider: id}
	}
	return a, nil
}

func drain(ch chan relay.StreamEvent) []string {
	var texts []string
	for ev := range ch {
		if ev.Type == relay.EventTextDelta {
			texts = append(texts, ev.Content)
		}
	}
	return texts
}

func TestNormalize_Idempotent(t *testing.T) {
	cfgs := []Config{
		{},
		{DefaultProvider: "bogus"},
		{DefaultProvider: "codex"},
		{
			DefaultProvider: "auto",
			Providers: map[string]ProviderPref{
				"google":  {Mode: ModeFixed, FixedModelID: "gemini-2.5-pro"},
				"unknown": {Mode: ModeFixed, FixedModelID: "x"},
				"groq":    {Mode: ModeFixed}, // fixed without model
			},
			SelectedOverride: Override{Enabled: true, Provider: "claude", Mode: ModeFixed, FixedModelID: "claude-sonnet-4"},
			LastUsed:         LastUsed{Provider: "oai", ModelID: "gpt-4.1"},
		},
	}
	for _, cfg := range cfgs {
		once := Normalize(cfg)
		twice := Normalize(once)
		if len(once.Providers) != len(twice.Providers) ||
			once.DefaultProvider != twice.DefaultProvider ||
			once.SelectedOverride != twice.SelectedOverride ||
			once.LastUsed != twice.LastUsed {
			t.Errorf("Normalize not idempotent:\n once: %+v\ntwice: %+v", once, twice)
		}
	}
}

func TestNormalize_Aliases(t *testing.T) {
	cfg := Normalize(Config{
		DefaultProvider: "codex",
		Providers: map[string]ProviderPref{
			"google": {Mode: ModeFixed, FixedModelID: "gemini-2.5-pro"},
		},
		LastUsed: LastUsed{Provider: "oai", ModelID: "gpt-4.1"},
	})
	if cfg.DefaultProvider != "coder" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if _, ok := cfg.Providers["gemini"]; !ok {
		t.Errorf("google alias not collapsed: %+v", cfg.Providers)
	}
	if cfg.LastUsed.Provider != "openai" {
		t.Errorf("LastUsed = %+v", cfg.LastUsed)
	}

	cfg = Normalize(Config{DefaultProvider: "bogus"})
	if cfg.DefaultProvider != "auto" {
		t.Errorf("unknown default should collapse to auto, got %q", cfg.DefaultProvider)
	}
}

func TestProviderOrder(t *testing.T) {
	auto := Default()
	if got := providerOrder("hello there", auto); len(got) != len(balancedOrder) {
		t.Errorf("balanced order length = %d", len(got))
	}
	if got := providerOrder("debug this code for me", auto); got[0] != relay.ProviderCoder {
		t.Errorf("coding order starts with %v", got[0])
	}
	if got := providerOrder("research the market and compare options", auto); got[0] != relay.ProviderOpenAI {
		t.Errorf("research order starts with %v", got[0])
	}

	pinned := Normalize(Config{DefaultProvider: "mistral"})
	if got := providerOrder("debug this code", pinned); len(got) != 1 || got[0] != relay.ProviderMistral {
		t.Errorf("pinned order = %v", got)
	}

	override := Normalize(Config{
		DefaultProvider:  "mistral",
		SelectedOverride: Override{Enabled: true, Provider: "groq"},
	})
	if got := providerOrder("x", override); len(got) != 1 || got[0] != relay.ProviderGroq {
		t.Errorf("override order = %v", got)
	}
}

func TestRoute_SuccessRecordsAndPersists(t *testing.T) {
	res := &fakeResolver{adapters: map[relay.ProviderID]*scriptedAdapter{
		relay.ProviderGroq: {id: relay.ProviderGroq, text: "answer"},
	}}
	tel := sched.NewTelemetry(filepath.Join(t.TempDir(), "telemetry.jsonl"))

	var lastProvider relay.ProviderID
	var lastModel string
	r := New(res,
		WithTelemetry(tel),
		WithLastUsedSink(func(p relay.ProviderID, m string) { lastProvider, lastModel = p, m }),
	)

	ch := make(chan relay.StreamEvent, 16)
	cfg := Normalize(Config{DefaultProvider: "groq"})
	result, err := r.Route(context.Background(), "hello", cfg, sched.Default(), ch)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	texts := drain(ch)
	if result.Text != "answer" || len(texts) != 1 || texts[0] != "answer" {
		t.Errorf("result = %+v, deltas = %v", result, texts)
	}
	if lastProvider != relay.ProviderGroq || lastModel != "groq-model" {
		t.Errorf("lastUsed sink got %v %q", lastProvider, lastModel)
	}

	stats, err := tel.Leaderboard(10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(stats) != 1 || stats[0].Runs != 1 || stats[0].SuccessRate != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRoute_FailoverOnRateLimit(t *testing.T) {
	limited := &scriptedAdapter{id: relay.ProviderGroq, err: errors.New("429 rate limit exceeded")}
	healthy := &scriptedAdapter{id: relay.ProviderDeepSeek, text: "from deepseek"}
	res := &fakeResolver{adapters: map[relay.ProviderID]*scriptedAdapter{
		relay.ProviderGroq:     limited,
		relay.ProviderDeepSeek: healthy,
	}}
	r := New(res)

	ch := make(chan relay.StreamEvent, 16)
	result, err := r.Route(context.Background(), "hello", Default(), sched.Config{}, ch)
	drain(ch)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Provider != relay.ProviderDeepSeek || result.Attempts != 2 {
		t.Errorf("result = %+v", result)
	}

	// The failed provider is cooling now and sorts behind the healthy one.
	cands := r.BuildCandidates(context.Background(), "hello", Default())
	if len(cands) != 2 || cands[len(cands)-1].Provider != relay.ProviderGroq {
		t.Errorf("cooldown did not demote: %+v", cands)
	}
}

func TestRoute_PinnedNonFallbackErrorAborts(t *testing.T) {
	broken := &scriptedAdapter{id: relay.ProviderMistral, err: errors.New("invalid request body")}
	healthy := &scriptedAdapter{id: relay.ProviderGroq, text: "x"}
	res := &fakeResolver{adapters: map[relay.ProviderID]*scriptedAdapter{
		relay.ProviderMistral: broken,
		relay.ProviderGroq:    healthy,
	}}
	r := New(res)

	ch := make(chan relay.StreamEvent, 16)
	cfg := Normalize(Config{SelectedOverride: Override{Enabled: true, Provider: "mistral"}})
	_, err := r.Route(context.Background(), "hello", cfg, sched.Default(), ch)
	drain(ch)
	if err == nil {
		t.Fatal("expected error from pinned provider")
	}
	if healthy.calls != 0 {
		t.Errorf("pinned failure must not fall back, healthy.calls = %d", healthy.calls)
	}
}

func TestRoute_AutoRoutingRetriesAnyError(t *testing.T) {
	broken := &scriptedAdapter{id: relay.ProviderGroq, err: errors.New("something odd")}
	healthy := &scriptedAdapter{id: relay.ProviderDeepSeek, text: "ok"}
	res := &fakeResolver{adapters: map[relay.ProviderID]*scriptedAdapter{
		relay.ProviderGroq:     broken,
		relay.ProviderDeepSeek: healthy,
	}}
	r := New(res)

	ch := make(chan relay.StreamEvent, 16)
	result, err := r.Route(context.Background(), "hello", Default(), sched.Config{}, ch)
	drain(ch)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Provider != relay.ProviderDeepSeek {
		t.Errorf("provider = %v", result.Provider)
	}
}

func TestRoute_NoDuplicateAfterPartialStream(t *testing.T) {
	// First candidate streams a delta and then dies; the router must not
	// move on, the caller already rendered partial output.
	partial := &scriptedAdapter{id: relay.ProviderGroq, err: errors.New("overloaded"), deltas: []string{"partial "}}
	healthy := &scriptedAdapter{id: relay.ProviderDeepSeek, text: "full"}
	res := &fakeResolver{adapters: map[relay.ProviderID]*scriptedAdapter{
		relay.ProviderGroq:     partial,
		relay.ProviderDeepSeek: healthy,
	}}
	r := New(res)

	ch := make(chan relay.StreamEvent, 16)
	_, err := r.Route(context.Background(), "hello", Default(), sched.Config{}, ch)
	drain(ch)
	if err == nil {
		t.Fatal("expected error surfaced after partial stream")
	}
	if healthy.calls != 0 {
		t.Errorf("router retried after partial stream, calls = %d", healthy.calls)
	}
}

func TestRoute_NoCandidates(t *testing.T) {
	r := New(&fakeResolver{adapters: map[relay.ProviderID]*scriptedAdapter{}})
	ch := make(chan relay.StreamEvent, 1)
	_, err := r.Route(context.Background(), "hello", Default(), sched.Default(), ch)
	if err == nil {
		t.Fatal("expected error with no candidates")
	}
	var authErr *relay.ErrAuth
	if !errors.As(err, &authErr) {
		t.Errorf("error type = %T", err)
	}
	if _, open := <-ch; open {
		t.Error("channel should be closed")
	}
}

func TestRoute_FixedModelHonored(t *testing.T) {
	a := &scriptedAdapter{id: relay.ProviderOpenAI, text: "hi"}
	res := &fakeResolver{adapters: map[relay.ProviderID]*scriptedAdapter{relay.ProviderOpenAI: a}}
	r := New(res)

	cfg := Normalize(Config{
		SelectedOverride: Override{Enabled: true, Provider: "openai", Mode: ModeFixed, FixedModelID: "gpt-4.1-mini"},
	})
	ch := make(chan relay.StreamEvent, 16)
	result, err := r.Route(context.Background(), "hello", cfg, sched.Default(), ch)
	drain(ch)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Model.ID != "gpt-4.1-mini" {
		t.Errorf("model = %q", result.Model.ID)
	}
}
