// Package intent classifies free-text prompts into the execution paths the
// pipeline understands. Classification is a pure function over the prompt
// text; no model call is involved.
package intent

import (
	"regexp"
	"strings"

	"relay"
)

// Kind is the classifier's tag for a user prompt.
type Kind int

const (
	// Chat is the fallback: route the prompt to a model.
	Chat Kind = iota
	// ProviderSlash is an explicit /provider command.
	ProviderSlash
	// ProviderNatural is a provider mentioned in natural form ("use groq ...").
	ProviderNatural
	// FSIntent is a filesystem operation with a recognizable path token.
	FSIntent
	// ShellIntent is a shell command, explicit (/cmd, bang) or implicit.
	ShellIntent
	// SystemExecution is a long-horizon action on the local system.
	SystemExecution
	// TodoOrchestration is a system execution that asks for a plan.
	TodoOrchestration
)

func (k Kind) String() string {
	switch k {
	case ProviderSlash:
		return "provider-slash"
	case ProviderNatural:
		return "provider-natural"
	case FSIntent:
		return "fs-intent"
	case ShellIntent:
		return "shell-intent"
	case SystemExecution:
		return "system-execution"
	case TodoOrchestration:
		return "todo-orchestration"
	default:
		return "chat"
	}
}

var (
	slashProviderRe = regexp.MustCompile(`^/(openai|groq|deepseek|anthropic|gemini|mistral|coder)\b`)

	// "provider/model ..." or "provider: Model Name > prompt" or "use provider".
	naturalProviderRe = regexp.MustCompile(`(?i)^(openai|groq|deepseek|anthropic|claude|gemini|mistral|coder)\s*[:/]`)
	useProviderRe     = regexp.MustCompile(`(?i)\buse\s+(openai|groq|deepseek|anthropic|claude|gemini|mistral|coder)\b`)

	pathTokenRe = regexp.MustCompile(`(^|\s)(/[\w.\-/]+|~/[\w.\-/]*|\.{1,2}/[\w.\-/]+|[\w\-]+\.(txt|md|go|py|js|ts|json|yaml|yml|toml|sh|csv|log|conf))`)

	fsVerbRe = regexp.MustCompile(`(?i)\b(create|make|write|append|add|delete|remove|move|rename|touch|mkdir)\b`)

	shellHeadTokens = []string{
		"ls", "cat", "grep", "find", "git", "docker", "kubectl", "npm",
		"go", "python", "pip", "curl", "wget", "ps", "top", "df", "du",
		"tar", "ssh", "systemctl", "brew", "apt", "make", "head", "tail",
	}

	actionVerbs = []string{
		"run", "execute", "install", "setup", "set up", "fix", "create",
		"make", "build", "deploy", "configure", "update", "banaw", "koro",
		"chalaw",
	}
	systemNouns = []string{
		"file", "folder", "directory", "project", "system", "installed",
		"cli", "package", "server", "service", "script", "repo",
		"environment", "dependency",
	}
	todoMarkers = []string{
		"todo", "plan", "step-by-step", "step by step", "workflow",
		"execute plan", "checklist",
	}

	greetings = map[string]struct{}{
		"hi": {}, "hello": {}, "hey": {}, "yo": {}, "sup": {},
		"good morning": {}, "good afternoon": {}, "good evening": {},
		"good night": {}, "how are you": {}, "what's up": {}, "whats up": {},
		"hola": {}, "salam": {}, "assalamu alaikum": {}, "thanks": {},
		"thank you": {}, "ok": {}, "okay": {},
	}
)

// Classify maps a free-text prompt to its execution path.
func Classify(prompt string) Kind {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return Chat
	}

	if slashProviderRe.MatchString(trimmed) {
		return ProviderSlash
	}

	if isShellExplicit(trimmed) {
		return ShellIntent
	}

	if naturalProviderRe.MatchString(trimmed) || useProviderRe.MatchString(trimmed) {
		return ProviderNatural
	}

	if fsVerbRe.MatchString(trimmed) && pathTokenRe.MatchString(trimmed) && looksLikeFSTarget(trimmed) {
		return FSIntent
	}

	if isShellImplicit(trimmed) {
		return ShellIntent
	}

	if isSystemExecution(trimmed) {
		if hasTodoMarker(trimmed) {
			return TodoOrchestration
		}
		return SystemExecution
	}

	return Chat
}

// IsBriefGreeting reports whether the prompt is a short greeting that should
// skip memory enrichment entirely.
func IsBriefGreeting(prompt string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(prompt))
	if len(trimmed) > 36 {
		return false
	}
	trimmed = strings.TrimRight(trimmed, "!.?, ")
	_, ok := greetings[trimmed]
	return ok
}

// isShellExplicit matches the slash and bang command forms.
func isShellExplicit(s string) bool {
	for _, prefix := range []string{"/cmd ", "/run ", "/shell ", "/fs ", "/executor "} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return strings.HasPrefix(s, "!") && len(s) > 1
}

// Head tokens that double as ordinary English words; these only count as
// shell when the arguments look like shell syntax.
var ambiguousHeads = map[string]struct{}{
	"make": {}, "go": {}, "find": {}, "head": {}, "tail": {}, "top": {},
}

// isShellImplicit matches bare unix invocations ("git status", "ls -la | wc").
func isShellImplicit(s string) bool {
	head := s
	if idx := strings.IndexAny(s, " \t"); idx > 0 {
		head = s[:idx]
	}
	for _, tok := range shellHeadTokens {
		if head != tok {
			continue
		}
		if _, ambiguous := ambiguousHeads[head]; !ambiguous {
			return true
		}
		rest := strings.TrimSpace(s[len(head):])
		return strings.ContainsAny(rest, "-|/.")
	}
	return false
}

// ShellCommand extracts the command text from a shell-intent prompt and
// reports whether the intent was explicit (slash/bang form).
func ShellCommand(prompt string) (cmd string, explicit bool) {
	s := strings.TrimSpace(prompt)
	for _, prefix := range []string{"/cmd ", "/run ", "/shell ", "/fs ", "/executor "} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(s, prefix)), true
		}
	}
	if strings.HasPrefix(s, "!") {
		return strings.TrimSpace(s[1:]), true
	}
	return s, false
}

func looksLikeFSTarget(s string) bool {
	// "delete the line about X from notes" style prose without a real path
	// slips past the verb check; require the path token to not be a URL.
	return !strings.Contains(s, "http://") && !strings.Contains(s, "https://")
}

func isSystemExecution(s string) bool {
	lower := strings.ToLower(s)
	verb := false
	for _, v := range actionVerbs {
		if strings.Contains(lower, v) {
			verb = true
			break
		}
	}
	if !verb {
		return false
	}
	for _, n := range systemNouns {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return pathTokenRe.MatchString(s)
}

func hasTodoMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range todoMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ProviderRef is a provider selection parsed from a prompt, with the
// remaining free prompt (empty when the user only switched providers).
type ProviderRef struct {
	Provider relay.ProviderID
	ModelID  string
	Prompt   string
}

// ParseProviderRef parses both the slash form (/groq, /groq model=x prompt,
// /groq x::prompt) and the natural forms ("groq: Model Name > prompt",
// "groq/model prompt", "use groq"). Returns false when the prompt carries no
// provider selection.
func ParseProviderRef(prompt string) (ProviderRef, bool) {
	s := strings.TrimSpace(prompt)

	if m := slashProviderRe.FindString(s); m != "" {
		id, _ := relay.ParseProvider(strings.TrimPrefix(m, "/"))
		rest := strings.TrimSpace(s[len(m):])
		ref := ProviderRef{Provider: id}

		if strings.HasPrefix(rest, "model=") {
			fields := strings.SplitN(strings.TrimPrefix(rest, "model="), " ", 2)
			ref.ModelID = fields[0]
			if len(fields) == 2 {
				ref.Prompt = strings.TrimSpace(fields[1])
			}
			return ref, true
		}
		if idx := strings.Index(rest, "::"); idx > 0 && !strings.Contains(rest[:idx], " ") {
			ref.ModelID = rest[:idx]
			ref.Prompt = strings.TrimSpace(rest[idx+2:])
			return ref, true
		}
		ref.Prompt = rest
		return ref, true
	}

	// "provider: Model Name > prompt"
	if m := naturalProviderRe.FindStringSubmatch(s); m != nil {
		id, ok := relay.ParseProvider(m[1])
		if !ok {
			return ProviderRef{}, false
		}
		rest := strings.TrimSpace(s[len(m[0]):])
		ref := ProviderRef{Provider: id}
		if idx := strings.Index(rest, ">"); idx >= 0 {
			ref.ModelID = strings.TrimSpace(rest[:idx])
			ref.Prompt = strings.TrimSpace(rest[idx+1:])
			return ref, true
		}
		// "provider/model prompt"
		if strings.HasPrefix(s[len(m[1]):], "/") {
			fields := strings.SplitN(rest, " ", 2)
			ref.ModelID = fields[0]
			if len(fields) == 2 {
				ref.Prompt = strings.TrimSpace(fields[1])
			}
			return ref, true
		}
		ref.Prompt = rest
		return ref, true
	}

	if m := useProviderRe.FindStringSubmatch(s); m != nil {
		id, ok := relay.ParseProvider(m[1])
		if !ok {
			return ProviderRef{}, false
		}
		rest := strings.TrimSpace(strings.Replace(s, m[0], "", 1))
		return ProviderRef{Provider: id, Prompt: rest}, true
	}

	return ProviderRef{}, false
}
