// Package memctx bridges the external memory collaborator into the router
// path. It decides per prompt how much saved context to attach and always
// fails open: any provider error leaves the prompt untouched.
package memctx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"relay/intent"
)

const (
	maxExcerpts      = 5
	maxRules         = 3
	sessionTailCap   = 1800
	carryoverTailCap = 2600
	// recencyBonusSpanMs spreads the recency bonus over roughly a week.
	recencyBonusSpanMs = 7 * 24 * 3600 * 1000
)

var memoryKeywords = []string{
	"memory", "remember", "recall", "saved", "you know about me", "ingat",
}

var sessionKeywords = []string{
	"previous", "continue", "resume", "last time", "earlier", "we discussed",
	"lanjut",
}

// Excerpt is one saved memory snippet with its save time.
type Excerpt struct {
	Text string
	At   int64 // unix ms
}

// Provider supplies raw memory material. All methods may fail; the bridge
// degrades gracefully.
type Provider interface {
	// Excerpts returns saved-memory snippets; the bridge ranks them.
	Excerpts(ctx context.Context) ([]Excerpt, error)
	// Rules returns standing agent rules.
	Rules(ctx context.Context) ([]string, error)
	// SessionTail returns the most recent conversation, newest last,
	// at most maxChars characters.
	SessionTail(ctx context.Context, maxChars int) (string, error)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithCarryover enables the larger session-tail cap used when a previous
// session is being continued.
func WithCarryover(on bool) Option {
	return func(b *Bridge) { b.carryover = on }
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithActivity registers a callback invoked with a short status line
// whenever the bridge attaches context.
func WithActivity(fn func(string)) Option {
	return func(b *Bridge) { b.activity = fn }
}

// Bridge builds context-enriched prompts.
type Bridge struct {
	provider  Provider
	carryover bool
	activity  func(string)
	log       *slog.Logger
}

// New creates a Bridge over a memory provider.
func New(provider Provider, opts ...Option) *Bridge {
	b := &Bridge{provider: provider, log: nopLogger}
	for _, o := range opts {
		o(b)
	}
	return b
}

// BuildContext returns the prompt, possibly prefixed with saved context.
// Brief greetings pass through untouched, as does everything on error.
func (b *Bridge) BuildContext(ctx context.Context, prompt string) string {
	if b.provider == nil || intent.IsBriefGreeting(prompt) {
		return prompt
	}

	if containsAny(prompt, memoryKeywords) {
		b.note("Recalling saved memories")
		return b.memoryContext(ctx, prompt)
	}
	// Session-recall keywords and plain prompts both get the recent tail;
	// recall intent only changes the surfaced activity line.
	if IsSessionRecall(prompt) {
		b.note("Resuming the previous session")
	}
	return b.sessionContext(ctx, prompt, b.tailCap())
}

// IsSessionRecall reports whether the prompt refers back to an earlier
// conversation.
func IsSessionRecall(prompt string) bool {
	return containsAny(prompt, sessionKeywords)
}

func (b *Bridge) note(msg string) {
	if b.activity != nil {
		b.activity(msg)
	}
}

func (b *Bridge) tailCap() int {
	if b.carryover {
		return carryoverTailCap
	}
	return sessionTailCap
}

func (b *Bridge) memoryContext(ctx context.Context, prompt string) string {
	var sections []string

	if excerpts, err := b.provider.Excerpts(ctx); err == nil && len(excerpts) > 0 {
		ranked := rankExcerpts(excerpts, prompt)
		if len(ranked) > maxExcerpts {
			ranked = ranked[:maxExcerpts]
		}
		var lines []string
		for _, e := range ranked {
			lines = append(lines, "- "+strings.TrimSpace(e.Text))
		}
		sections = append(sections, "Saved memories:\n"+strings.Join(lines, "\n"))
	} else if err != nil {
		b.log.Debug("memory excerpts unavailable", "err", err)
	}

	if rules, err := b.provider.Rules(ctx); err == nil && len(rules) > 0 {
		if len(rules) > maxRules {
			rules = rules[:maxRules]
		}
		var lines []string
		for _, r := range rules {
			lines = append(lines, "- "+strings.TrimSpace(r))
		}
		sections = append(sections, "Standing rules:\n"+strings.Join(lines, "\n"))
	}

	if tail, err := b.provider.SessionTail(ctx, b.tailCap()); err == nil && tail != "" {
		sections = append(sections, "Recent session:\n"+tail)
	}

	if len(sections) == 0 {
		return prompt
	}
	return fmt.Sprintf("%s\n\nUser request: %s", strings.Join(sections, "\n\n"), prompt)
}

func (b *Bridge) sessionContext(ctx context.Context, prompt string, limit int) string {
	tail, err := b.provider.SessionTail(ctx, limit)
	if err != nil {
		b.log.Debug("session tail unavailable", "err", err)
		return prompt
	}
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return prompt
	}
	if len(tail) > limit {
		tail = tail[len(tail)-limit:]
	}
	b.note("Attaching recent session context")
	return fmt.Sprintf("Recent session:\n%s\n\nUser request: %s", tail, prompt)
}

// rankExcerpts orders excerpts by keyword overlap with the prompt plus a
// small recency bonus.
func rankExcerpts(excerpts []Excerpt, prompt string) []Excerpt {
	words := promptWords(prompt)
	newest := int64(0)
	for _, e := range excerpts {
		if e.At > newest {
			newest = e.At
		}
	}

	type scored struct {
		ex    Excerpt
		score float64
		pos   int
	}
	ranked := make([]scored, len(excerpts))
	for i, e := range excerpts {
		overlap := 0
		lower := strings.ToLower(e.Text)
		for w := range words {
			if strings.Contains(lower, w) {
				overlap++
			}
		}
		recency := 0.0
		if newest > 0 {
			age := newest - e.At
			if age < recencyBonusSpanMs {
				recency = 0.5 * (1 - float64(age)/float64(recencyBonusSpanMs))
			}
		}
		ranked[i] = scored{ex: e, score: float64(overlap) + recency, pos: i}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].pos < ranked[j].pos
	})

	out := make([]Excerpt, len(ranked))
	for i, s := range ranked {
		out[i] = s.ex
	}
	return out
}

func promptWords(prompt string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		w = strings.Trim(w, ".,!?\"'()[]{}")
		if len(w) >= 3 {
			words[w] = struct{}{}
		}
	}
	return words
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
