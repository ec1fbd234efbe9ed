// Package pipeline orchestrates one user action end to end: intent
// classification, policy gating, filesystem and shell execution, system
// runtime delegation, todo orchestration and chat routing. Every run is
// logged through a single executor session.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"relay"
	"relay/intent"
	"relay/policy"
	"relay/router"
	"relay/sched"
)

// Orchestrator runs a multi-step todo objective. *todo.Orchestrator
// satisfies this.
type Orchestrator interface {
	Run(ctx context.Context, objective string) (string, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSystemExecutor enables the system-execution path via the runtime
// binary adapter.
func WithSystemExecutor(p relay.Provider, modelID string) Option {
	return func(pl *Pipeline) {
		pl.exec = p
		if modelID != "" {
			pl.execModel = modelID
		}
	}
}

// WithTodo enables todo orchestration.
func WithTodo(o Orchestrator) Option {
	return func(pl *Pipeline) { pl.todo = o }
}

// WithContextBuilder sets the memory-context bridge applied to chat prompts.
func WithContextBuilder(fn func(ctx context.Context, prompt string) string) Option {
	return func(pl *Pipeline) { pl.contextFn = fn }
}

// WithMemory sets the turn store used after chat responses.
func WithMemory(m relay.Memory) Option {
	return func(pl *Pipeline) { pl.memory = m }
}

// WithLockSink registers a callback invoked when the user selects a
// provider without a prompt, so the caller can persist the selection.
func WithLockSink(fn func(intent.ProviderRef)) Option {
	return func(pl *Pipeline) { pl.lockSink = fn }
}

// WithShellTimeout overrides the explicit-shell timeout.
func WithShellTimeout(d time.Duration) Option {
	return func(pl *Pipeline) { pl.shellTimeout = d }
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) {
		if l != nil {
			pl.log = l
		}
	}
}

// Pipeline routes classified prompts to their execution path.
type Pipeline struct {
	Sessions *SessionLog

	workspace string
	rt        *router.Router
	policyFn  func() policy.Config
	routerFn  func() router.Config
	schedFn   func() sched.Config

	exec         relay.Provider
	execModel    string
	todo         Orchestrator
	contextFn    func(ctx context.Context, prompt string) string
	memory       relay.Memory
	lockSink     func(intent.ProviderRef)
	shellTimeout time.Duration
	log          *slog.Logger
}

// New creates a Pipeline. The config funcs are read per run so REPL
// mutations take effect immediately.
func New(workspace string, rt *router.Router, policyFn func() policy.Config, routerFn func() router.Config, schedFn func() sched.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		Sessions:  NewSessionLog(),
		workspace: workspace,
		rt:        rt,
		policyFn:  policyFn,
		routerFn:  routerFn,
		schedFn:   schedFn,
		execModel: "gpt-5-codex",
		log:       nopLogger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes one prompt. Deltas of a streamed chat answer go to onDelta
// as they arrive; the final text is also returned. Action paths return a
// terminal result string. Policy denials are reported as results, not
// errors, so the REPL keeps running.
func (p *Pipeline) Run(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	kind := intent.Classify(prompt)
	p.log.Debug("classified", "kind", kind.String())

	switch kind {
	case intent.ProviderSlash, intent.ProviderNatural:
		if ref, ok := intent.ParseProviderRef(prompt); ok {
			return p.runProviderRef(ctx, ref, onDelta)
		}
		return p.runChat(ctx, prompt, onDelta)

	case intent.FSIntent:
		return p.runFs(prompt)

	case intent.ShellIntent:
		cmd, explicit := intent.ShellCommand(prompt)
		if explicit || p.exec == nil {
			return p.runShellPath(ctx, cmd, prompt)
		}
		return p.runSystemPath(ctx, prompt)

	case intent.TodoOrchestration:
		if p.todo != nil {
			return p.runTodoPath(ctx, prompt)
		}
		return p.runChat(ctx, prompt, onDelta)

	case intent.SystemExecution:
		if p.exec != nil {
			return p.runSystemPath(ctx, prompt)
		}
		return p.runChat(ctx, prompt, onDelta)

	default:
		return p.runChat(ctx, prompt, onDelta)
	}
}

func (p *Pipeline) runFs(prompt string) (string, error) {
	action, ok := ParseFsAction(prompt)
	if !ok {
		return "", fmt.Errorf("no filesystem path found in %q", prompt)
	}

	path := resolvePath(action.Path, p.workspace)
	decision := policy.EvaluateFsIntent(action.policyKind(), path, p.policyFn())
	if denied, msg := decisionMessage(decision); denied {
		return msg, nil
	}

	p.Sessions.Begin("Filesystem", prompt)
	summary, err := runFsAction(action, p.workspace)
	if err != nil {
		p.Sessions.Fail(err.Error())
		return "", err
	}
	p.Sessions.Complete(summary)
	return summary, nil
}

func (p *Pipeline) runShellPath(ctx context.Context, command, prompt string) (string, error) {
	if command == "" {
		command = prompt
	}
	decision := policy.EvaluateCommand(command, prompt, p.policyFn())
	if denied, msg := decisionMessage(decision); denied {
		return msg, nil
	}

	p.Sessions.Begin("Shell", command)
	result, err := runShell(ctx, command, p.workspace, p.Sessions, p.shellTimeout)
	if err != nil {
		p.Sessions.Fail(err.Error())
		return "", err
	}

	status := result.StatusLine()
	if result.ExitCode == 0 {
		p.Sessions.Complete(status)
	} else {
		p.Sessions.Fail(status)
	}
	if result.Output == "" {
		return status, nil
	}
	return result.Output + "\n" + status, nil
}

func (p *Pipeline) runSystemPath(ctx context.Context, prompt string) (string, error) {
	if cmd, ok := directCommand(prompt); ok {
		return p.runShellPath(ctx, cmd, prompt)
	}

	decision := policy.EvaluateCommand(prompt, prompt, p.policyFn())
	if denied, msg := decisionMessage(decision); denied {
		return msg, nil
	}

	p.Sessions.Begin("System Executor", prompt)
	text, err := p.runSystemExecutor(ctx, prompt)
	if err != nil {
		p.Sessions.Fail(err.Error())
		return "", err
	}
	p.Sessions.Complete(firstLine(text))
	return text, nil
}

func (p *Pipeline) runTodoPath(ctx context.Context, prompt string) (string, error) {
	p.Sessions.Begin("Todo Orchestrator", prompt)
	text, err := p.todo.Run(ctx, prompt)
	if err != nil {
		p.Sessions.Fail(err.Error())
		return "", err
	}
	p.Sessions.Complete(firstLine(text))
	return text, nil
}

// runProviderRef serves prompts carrying an explicit provider selection.
// With no prompt the selection is handed to the lock sink; with one, the
// turn routes under a one-off override.
func (p *Pipeline) runProviderRef(ctx context.Context, ref intent.ProviderRef, onDelta func(string)) (string, error) {
	actor := string(ref.Provider)
	if ref.ModelID != "" {
		actor += "/" + ref.ModelID
	}

	if strings.TrimSpace(ref.Prompt) == "" {
		if p.lockSink != nil {
			p.lockSink(ref)
		}
		return "Locked to " + actor + ". Send a prompt to use it, or /back for auto routing.", nil
	}

	cfg := p.routerFn()
	cfg.SelectedOverride = router.Override{Enabled: true, Provider: string(ref.Provider), Mode: router.ModeAuto}
	if ref.ModelID != "" {
		cfg.SelectedOverride.Mode = router.ModeFixed
		cfg.SelectedOverride.FixedModelID = ref.ModelID
	}
	return p.chatWith(ctx, cfg, ref.Prompt, onDelta)
}

func (p *Pipeline) runChat(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	return p.chatWith(ctx, p.routerFn(), prompt, onDelta)
}

func (p *Pipeline) chatWith(ctx context.Context, cfg router.Config, prompt string, onDelta func(string)) (string, error) {
	routed := prompt
	if p.contextFn != nil {
		routed = p.contextFn(ctx, prompt)
	}

	ch := make(chan relay.StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Type == relay.EventTextDelta && onDelta != nil {
				onDelta(ev.Content)
			}
		}
	}()

	result, err := p.rt.Route(ctx, routed, cfg, p.schedFn(), ch)
	<-done
	if err != nil {
		return "", err
	}

	if p.memory != nil {
		if err := p.memory.SaveTurn(ctx, prompt, result.Text); err != nil {
			p.log.Warn("save turn failed", "err", err)
		}
	}
	return result.Text, nil
}

// decisionMessage formats a policy decision for the user. Returns true when
// the action must not run.
func decisionMessage(d policy.Decision) (bool, string) {
	if !d.Allowed {
		return true, "Blocked: " + d.Reason
	}
	if d.RequiresConfirmation {
		msg := "Confirmation required: " + d.Reason
		if d.ConfirmHint != "" {
			msg += "\nAdd \"" + d.ConfirmHint + "\" to your prompt to proceed."
		}
		return true, msg
	}
	return false, ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		cut := 160
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…"
	}
	return s
}
