package relay

import "testing"

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want ProviderID
		ok   bool
	}{
		{"openai", ProviderOpenAI, true},
		{"OpenAI", ProviderOpenAI, true},
		{"gpt", ProviderOpenAI, true},
		{"claude", ProviderAnthropic, true},
		{"deep-seek", ProviderDeepSeek, true},
		{"Google", ProviderGemini, true},
		{"codex", ProviderCoder, true},
		{"llama", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseProvider(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseProvider(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestProviderWireAndCost(t *testing.T) {
	if ProviderAnthropic.Wire() != WireMessages {
		t.Errorf("anthropic wire = %q, want messages", ProviderAnthropic.Wire())
	}
	if ProviderGemini.Wire() != WireGenLang {
		t.Errorf("gemini wire = %q, want genlang", ProviderGemini.Wire())
	}
	if ProviderCoder.CostPer1K() != 0 {
		t.Errorf("coder cost = %v, want 0", ProviderCoder.CostPer1K())
	}
	for _, id := range AllProviders() {
		if !id.Known() {
			t.Errorf("AllProviders returned unknown provider %q", id)
		}
	}
}

func TestCandidateActor(t *testing.T) {
	c := RouteCandidate{
		Provider: ProviderGroq,
		Model:    ModelDescriptor{ID: "llama-3.3-70b", Name: "Llama 3.3 70B"},
	}
	if got := c.Actor(); got != "Groq: Llama 3.3 70B" {
		t.Errorf("Actor() = %q", got)
	}

	// Falls back to the model ID when there is no display name.
	c.Model.Name = ""
	if got := c.Actor(); got != "Groq: llama-3.3-70b" {
		t.Errorf("Actor() without name = %q", got)
	}
}

func TestCredentialExpired(t *testing.T) {
	c := Credential{APIKey: "k"}
	if c.Expired(1_000_000) {
		t.Error("zero ExpiresAt should never expire")
	}
	c.ExpiresAt = 500
	if !c.Expired(500) {
		t.Error("credential at its expiry instant should be expired")
	}
}
