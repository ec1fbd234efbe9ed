package intent

import (
	"testing"

	"relay"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		prompt string
		want   Kind
	}{
		{"", Chat},
		{"what is the capital of France?", Chat},
		{"/groq hello", ProviderSlash},
		{"/anthropic model=claude-3-haiku summarize this", ProviderSlash},
		{"use groq to answer this", ProviderNatural},
		{"deepseek: DeepSeek Chat > refactor my parser", ProviderNatural},
		{"create a file ./notes.md with my ideas", FSIntent},
		{"delete ~/tmp/scratch.txt", FSIntent},
		{"/cmd ls -la", ShellIntent},
		{"!git status", ShellIntent},
		{"git log --oneline", ShellIntent},
		{"ls -la | wc -l", ShellIntent},
		{"install the postgres cli on this system", SystemExecution},
		{"fix the failing build in this project", SystemExecution},
		{"setup the nginx service step by step", TodoOrchestration},
		{"go build ./... and tell me what breaks", ShellIntent},
		{"make a todo plan to migrate the project", TodoOrchestration},
	}

	for _, tt := range tests {
		if got := Classify(tt.prompt); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.prompt, got, tt.want)
		}
	}
}

func TestIsBriefGreeting(t *testing.T) {
	tests := []struct {
		prompt string
		want   bool
	}{
		{"hi", true},
		{"Hello!", true},
		{"good morning", true},
		{"thanks!!", true},
		{"hello, can you explain how goroutines work in detail", false},
		{"hi there friend how is it going today really", false},
	}
	for _, tt := range tests {
		if got := IsBriefGreeting(tt.prompt); got != tt.want {
			t.Errorf("IsBriefGreeting(%q) = %v, want %v", tt.prompt, got, tt.want)
		}
	}
}

func TestShellCommand(t *testing.T) {
	cmd, explicit := ShellCommand("/cmd ls -la")
	if cmd != "ls -la" || !explicit {
		t.Errorf("slash form = (%q, %v)", cmd, explicit)
	}
	cmd, explicit = ShellCommand("!docker ps")
	if cmd != "docker ps" || !explicit {
		t.Errorf("bang form = (%q, %v)", cmd, explicit)
	}
	cmd, explicit = ShellCommand("git status")
	if cmd != "git status" || explicit {
		t.Errorf("implicit form = (%q, %v)", cmd, explicit)
	}
}

func TestParseProviderRef_Slash(t *testing.T) {
	ref, ok := ParseProviderRef("/groq")
	if !ok || ref.Provider != relay.ProviderGroq || ref.Prompt != "" || ref.ModelID != "" {
		t.Fatalf("bare slash = %+v, ok=%v", ref, ok)
	}

	ref, ok = ParseProviderRef("/anthropic model=claude-3-haiku summarize the log")
	if !ok || ref.Provider != relay.ProviderAnthropic || ref.ModelID != "claude-3-haiku" || ref.Prompt != "summarize the log" {
		t.Fatalf("model= form = %+v, ok=%v", ref, ok)
	}

	ref, ok = ParseProviderRef("/gemini flash-2.5::explain channels")
	if !ok || ref.ModelID != "flash-2.5" || ref.Prompt != "explain channels" {
		t.Fatalf("prefix:: form = %+v, ok=%v", ref, ok)
	}
}

func TestParseProviderRef_Natural(t *testing.T) {
	ref, ok := ParseProviderRef("deepseek: DeepSeek Chat > refactor my parser")
	if !ok || ref.Provider != relay.ProviderDeepSeek || ref.ModelID != "DeepSeek Chat" || ref.Prompt != "refactor my parser" {
		t.Fatalf("colon form = %+v, ok=%v", ref, ok)
	}

	ref, ok = ParseProviderRef("use claude what do you think")
	if !ok || ref.Provider != relay.ProviderAnthropic || ref.Prompt != "what do you think" {
		t.Fatalf("use form = %+v, ok=%v", ref, ok)
	}

	if _, ok := ParseProviderRef("plain chat prompt"); ok {
		t.Fatal("plain prompt should not parse as provider ref")
	}
}
