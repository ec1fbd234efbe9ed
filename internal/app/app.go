// Package app wires the resolver, router, pipeline, stores and frontends
// into the interactive assistant and hosts its REPL.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relay"
	"relay/eval"
	"relay/intent"
	"relay/internal/config"
	"relay/memctx"
	"relay/observer"
	"relay/pipeline"
	"relay/policy"
	"relay/provider/execbin"
	"relay/provider/resolve"
	"relay/router"
	"relay/sched"
	"relay/store"
	"relay/todo"
)

// Option configures an App.
type Option func(*App)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithIO overrides the REPL streams. Used by tests.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
	}
}

// WithInstruments attaches telemetry instruments so every provider call is
// traced and costed.
func WithInstruments(inst *observer.Instruments) Option {
	return func(a *App) { a.inst = inst }
}

// App is the assembled assistant.
type App struct {
	cfg       config.Config
	store     *store.Store
	resolver  *resolve.Resolver
	rt        *router.Router
	pipe      *pipeline.Pipeline
	harness   *eval.Harness
	telemetry *sched.Telemetry
	memory    *sessionMemory
	inst      *observer.Instruments

	// run is the pipeline entry point, swappable in tests.
	run func(ctx context.Context, prompt string, onDelta func(string)) (string, error)

	in      io.Reader
	out     io.Writer
	statsOn bool
	log     *slog.Logger
}

// New assembles an App from configuration.
func New(cfg config.Config, opts ...Option) *App {
	a := &App{
		cfg: cfg,
		in:  os.Stdin,
		out: os.Stdout,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	a.store = store.New(cfg.Store.Dir, store.WithLogger(a.log))

	a.resolver = resolve.New(
		resolve.WithCredentialsPath(cfg.Store.CredentialsPath),
		resolve.WithExecBinary(cfg.Runtime.ExecBinary),
	)

	var candidates router.CandidateResolver = a.resolver
	if a.inst != nil {
		candidates = &observedResolver{inner: a.resolver, inst: a.inst}
	}

	a.telemetry = sched.NewTelemetry(a.store.TelemetryPath())
	a.rt = router.New(candidates,
		router.WithLogger(a.log),
		router.WithTelemetry(a.telemetry),
		router.WithLastUsedSink(func(p relay.ProviderID, modelID string) {
			cfg := a.store.RouterConfig()
			cfg.LastUsed = router.LastUsed{Provider: string(p), ModelID: modelID}
			if err := a.store.SaveRouterConfig(cfg); err != nil {
				a.log.Warn("persist last-used", "err", err)
			}
		}),
	)

	a.memory = newSessionMemory(filepath.Join(cfg.Store.Dir, "memory-state.json"))
	bridge := memctx.New(a.memory, memctx.WithLogger(a.log))

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithContextBuilder(bridge.BuildContext),
		pipeline.WithMemory(a.memory),
		pipeline.WithLockSink(a.persistLock),
	}
	if cfg.Runtime.ExecBinary != "" {
		exec := execbin.New(cfg.Runtime.ExecBinary)
		pipeOpts = append(pipeOpts,
			pipeline.WithSystemExecutor(exec, ""),
			pipeline.WithTodo(todo.New(
				a.plannerFor(),
				exec,
				todo.NewStore(a.store.TodoDir()),
				todo.WithLogger(a.log),
			)),
		)
	}
	a.pipe = pipeline.New(
		cfg.Policy.WorkspaceRoot,
		a.rt,
		func() policy.Config { return a.store.PolicyConfig(cfg.Policy.WorkspaceRoot) },
		a.store.RouterConfig,
		a.store.SchedulerConfig,
		pipeOpts...,
	)
	a.run = a.pipe.Run

	a.harness = eval.New(a.store.Dir(), a.evalRunner(), eval.WithLogger(a.log))
	return a
}

// persistLock saves a provider selection made without a prompt, so the lock
// survives restarts and applies to every later turn.
func (a *App) persistLock(ref intent.ProviderRef) {
	cfg := a.store.RouterConfig()
	cfg.SelectedOverride = router.Override{Enabled: true, Provider: string(ref.Provider), Mode: router.ModeAuto}
	if ref.ModelID != "" {
		cfg.SelectedOverride.Mode = router.ModeFixed
		cfg.SelectedOverride.FixedModelID = ref.ModelID
	}
	if err := a.store.SaveRouterConfig(cfg); err != nil {
		a.log.Warn("persist override", "err", err)
	}
}

// plannerFor builds the todo planner: a capped router call.
func (a *App) plannerFor() todo.Planner {
	return todo.PlannerFunc(func(ctx context.Context, objective string) (string, error) {
		ch := make(chan relay.StreamEvent, 64)
		go func() {
			for range ch {
			}
		}()
		result, err := a.rt.Route(ctx, objective, a.store.RouterConfig(), a.store.SchedulerConfig(), ch)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	})
}

// evalRunner adapts the router for the eval harness: one prompt, one
// routed answer with its winning pair and latency.
func (a *App) evalRunner() eval.Runner {
	return func(ctx context.Context, prompt string) (eval.Answer, error) {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		ch := make(chan relay.StreamEvent, 64)
		go func() {
			for range ch {
			}
		}()
		result, err := a.rt.Route(ctx, prompt, a.store.RouterConfig(), a.store.SchedulerConfig(), ch)
		if err != nil {
			return eval.Answer{}, err
		}
		return eval.Answer{
			Text:      result.Text,
			Provider:  string(result.Provider),
			Model:     result.Model.ID,
			LatencyMs: result.LatencyMs,
		}, nil
	}
}

// observedResolver wraps every adapter the router asks for.
type observedResolver struct {
	inner *resolve.Resolver
	inst  *observer.Instruments
}

func (o *observedResolver) Resolve(ctx context.Context, id relay.ProviderID, modelID string) (relay.RouteCandidate, error) {
	return o.inner.Resolve(ctx, id, modelID)
}

func (o *observedResolver) Adapter(id relay.ProviderID) (relay.Provider, error) {
	p, err := o.inner.Adapter(id)
	if err != nil {
		return nil, err
	}
	return observer.WrapProvider(p, o.inst), nil
}
