// Package eval is a lightweight quality gate: a seeded set of prompt cases
// runs through the router and each answer is checked against substring
// expectations. Runs are appended to history so pass-rate trends are
// visible, and a failing run below the threshold marks the gate blocked.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"relay"
)

const (
	casesFile   = "eval-cases.json"
	runsFile    = "eval-runs.jsonl"
	blockedFile = "eval-blocked"

	defaultThreshold = 0.8
	trendTail        = 20
	caseParallelism  = 4
)

// Case is one prompt with its expectations. An expectation passes when the
// answer contains it, case-insensitively.
type Case struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Expectations []string `json:"expectations"`
}

// CaseResult is the outcome of one case in one run.
type CaseResult struct {
	ID        string   `json:"id"`
	Passed    bool     `json:"passed"`
	Reasons   []string `json:"reasons,omitempty"`
	Provider  string   `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
	LatencyMs int64    `json:"latencyMs"`
}

// Run is one full harness pass.
type Run struct {
	At        int64        `json:"at"`
	Results   []CaseResult `json:"results"`
	PassRate  float64      `json:"passRate"`
	Failed    int          `json:"failed"`
	Blocked   bool         `json:"blocked"`
	Threshold float64      `json:"threshold"`
}

// Answer is what the runner returns for one prompt.
type Answer struct {
	Text      string
	Provider  string
	Model     string
	LatencyMs int64
}

// Runner executes one prompt, normally via the router.
type Runner func(ctx context.Context, prompt string) (Answer, error)

// Option configures a Harness.
type Option func(*Harness)

// WithThreshold overrides the blocking pass-rate threshold.
func WithThreshold(t float64) Option {
	return func(h *Harness) {
		if t > 0 && t <= 1 {
			h.threshold = t
		}
	}
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.log = l
		}
	}
}

// Harness drives eval runs from files under dir.
type Harness struct {
	dir       string
	run       Runner
	threshold float64
	log       *slog.Logger
}

// New creates a Harness storing state under dir.
func New(dir string, run Runner, opts ...Option) *Harness {
	h := &Harness{dir: dir, run: run, threshold: defaultThreshold, log: nopLogger}
	for _, o := range opts {
		o(h)
	}
	return h
}

// seedCases are written by Init when no case file exists.
var seedCases = []Case{
	{ID: "basics-go", Prompt: "In one paragraph, what is a goroutine in Go?", Expectations: []string{"goroutine"}},
	{ID: "math-simple", Prompt: "What is 17 multiplied by 3? Answer with the number.", Expectations: []string{"51"}},
	{ID: "format-list", Prompt: "List exactly three primary colors, one per line.", Expectations: []string{"red", "blue"}},
	{ID: "refusal-free", Prompt: "Write a haiku about the sea.", Expectations: []string{"\n"}},
}

// Init seeds the case file when absent.
func (h *Harness) Init() error {
	path := filepath.Join(h.dir, casesFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("eval: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(seedCases, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Cases loads the case file.
func (h *Harness) Cases() ([]Case, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, casesFile))
	if err != nil {
		return nil, fmt.Errorf("eval: no cases, run init first: %w", err)
	}
	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("eval: parse cases: %w", err)
	}
	return cases, nil
}

// Execute runs every case, persists the run and updates the gate.
func (h *Harness) Execute(ctx context.Context) (Run, error) {
	cases, err := h.Cases()
	if err != nil {
		return Run{}, err
	}

	run := Run{At: relay.NowUnixMilli(), Threshold: h.threshold}
	run.Results = make([]CaseResult, len(cases))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(caseParallelism)
	for i, c := range cases {
		group.Go(func() error {
			run.Results[i] = h.runCase(gctx, c)
			return nil
		})
	}
	_ = group.Wait()

	passed := 0
	for _, r := range run.Results {
		if r.Passed {
			passed++
		} else {
			run.Failed++
		}
	}
	if len(run.Results) > 0 {
		run.PassRate = float64(passed) / float64(len(run.Results))
	}
	run.Blocked = run.PassRate < h.threshold

	if err := h.appendRun(run); err != nil {
		return run, err
	}
	if run.Blocked {
		if err := os.WriteFile(h.blockedPath(), []byte(fmt.Sprintf("pass rate %.2f below %.2f\n", run.PassRate, h.threshold)), 0o644); err != nil {
			h.log.Warn("write eval gate", "err", err)
		}
	} else {
		_ = os.Remove(h.blockedPath())
	}
	return run, nil
}

func (h *Harness) runCase(ctx context.Context, c Case) CaseResult {
	result := CaseResult{ID: c.ID}

	answer, err := h.run(ctx, c.Prompt)
	if err != nil {
		result.Reasons = append(result.Reasons, "run failed: "+err.Error())
		return result
	}
	result.Provider = answer.Provider
	result.Model = answer.Model
	result.LatencyMs = answer.LatencyMs

	lower := strings.ToLower(answer.Text)
	result.Passed = true
	for _, want := range c.Expectations {
		if !strings.Contains(lower, strings.ToLower(want)) {
			result.Passed = false
			result.Reasons = append(result.Reasons, fmt.Sprintf("missing %q", want))
		}
	}
	return result
}

// Blocked reports whether the last run failed the gate.
func (h *Harness) Blocked() bool {
	_, err := os.Stat(h.blockedPath())
	return err == nil
}

// Unblock clears the gate manually.
func (h *Harness) Unblock() error {
	err := os.Remove(h.blockedPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Trend returns the most recent runs, oldest first.
func (h *Harness) Trend() ([]Run, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, runsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var runs []Run
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var r Run
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue // skip torn writes
		}
		runs = append(runs, r)
	}
	if len(runs) > trendTail {
		runs = runs[len(runs)-trendTail:]
	}
	return runs, nil
}

// ModelScore aggregates historical pass counts per provider:model pair.
type ModelScore struct {
	Provider string
	Model    string
	Cases    int
	Passed   int
}

// PassRate is the fraction of historical cases this pair answered correctly.
func (s ModelScore) PassRate() float64 {
	if s.Cases == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Cases)
}

// Leaderboard aggregates all recorded runs per provider:model.
func (h *Harness) Leaderboard() ([]ModelScore, error) {
	runs, err := h.Trend()
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*ModelScore)
	for _, run := range runs {
		for _, r := range run.Results {
			if r.Provider == "" {
				continue
			}
			key := r.Provider + ":" + r.Model
			score, ok := byKey[key]
			if !ok {
				score = &ModelScore{Provider: r.Provider, Model: r.Model}
				byKey[key] = score
			}
			score.Cases++
			if r.Passed {
				score.Passed++
			}
		}
	}

	out := make([]ModelScore, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PassRate() != out[j].PassRate() {
			return out[i].PassRate() > out[j].PassRate()
		}
		return out[i].Cases > out[j].Cases
	})
	return out, nil
}

func (h *Harness) appendRun(run Run) error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("eval: mkdir: %w", err)
	}
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(h.dir, runsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eval: open history: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func (h *Harness) blockedPath() string {
	return filepath.Join(h.dir, blockedFile)
}
