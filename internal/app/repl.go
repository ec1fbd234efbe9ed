package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"relay/intent"
	"relay/pipeline"
	"relay/policy"
	"relay/router"
	"relay/sched"
)

var errExit = errors.New("exit")

const homeBanner = `relay — multi-provider assistant
Type a prompt, or /help for commands.`

const helpText = `Commands:
  /executor [all]      print the last executor session
  /scheduler [...]     cost/quality scheduler status and settings
  /policy [...]        execution policy settings
  /eval [...]          quality gate: init|run|leaderboard|trend|unblock
  /stats               toggle the per-prompt metrics line
  /back, /b            clear the provider override
  /clear               clear screen
  /exit                quit
  /<provider> [prompt] lock or route to one provider (openai, groq, deepseek,
                       anthropic, gemini, mistral, coder)`

// Run drives the REPL until EOF, /exit or context cancellation.
func (a *App) Run(ctx context.Context) error {
	fmt.Fprintln(a.out, homeBanner)

	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(a.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if err := a.dispatch(ctx, line); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				fmt.Fprintln(a.out, "Error:", err)
			}
			continue
		}
		a.prompt(ctx, line)
	}
}

// dispatch handles one slash command. Provider slashes fall through to the
// pipeline; anything else unrecognized is rejected.
func (a *App) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "/help", "/h":
		fmt.Fprintln(a.out, helpText)
	case "/ai", "/model", "/connect", "/skills", "/telegram":
		fmt.Fprintf(a.out, "The %s flow runs in its companion tool.\n", fields[0])
	case "/executor":
		a.printExecutor(len(args) > 0 && strings.EqualFold(args[0], "all"))
	case "/scheduler":
		return a.schedulerCmd(args)
	case "/policy":
		return a.policyCmd(args)
	case "/eval":
		return a.evalCmd(ctx, args)
	case "/stats":
		a.statsOn = !a.statsOn
		if a.statsOn {
			fmt.Fprintln(a.out, "Per-prompt metrics on.")
		} else {
			fmt.Fprintln(a.out, "Per-prompt metrics off.")
		}
	case "/back", "/b":
		cfg := a.store.RouterConfig()
		cfg.SelectedOverride = router.Override{}
		if err := a.store.SaveRouterConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Back to automatic routing.")
	case "/clear":
		fmt.Fprint(a.out, "\033[2J\033[H")
		fmt.Fprintln(a.out, homeBanner)
	case "/exit":
		return errExit
	default:
		if _, ok := intent.ParseProviderRef(line); ok {
			a.prompt(ctx, line)
			return nil
		}
		fmt.Fprintf(a.out, "Unknown command %s. Try /help.\n", fields[0])
	}
	return nil
}

// prompt runs free text through the pipeline, streaming deltas as they
// arrive.
func (a *App) prompt(ctx context.Context, line string) {
	started := time.Now()
	streamed := false
	text, err := a.run(ctx, line, func(delta string) {
		streamed = true
		fmt.Fprint(a.out, delta)
	})
	if err != nil {
		if streamed {
			fmt.Fprintln(a.out)
		}
		fmt.Fprintln(a.out, "Error:", err)
		return
	}
	if streamed {
		fmt.Fprintln(a.out)
	} else {
		fmt.Fprintln(a.out, text)
	}

	if a.statsOn {
		last := a.store.RouterConfig().LastUsed
		actor := last.Provider
		if last.ModelID != "" {
			actor += " · " + last.ModelID
		}
		if actor == "" {
			actor = "local"
		}
		fmt.Fprintf(a.out, "[%.1fs · %s]\n", time.Since(started).Seconds(), actor)
	}
}

func (a *App) printExecutor(all bool) {
	session := a.pipe.Sessions.Active()
	if session == nil {
		session = a.pipe.Sessions.Last()
	}
	if session == nil {
		fmt.Fprintln(a.out, "No executor session yet.")
		return
	}

	fmt.Fprintf(a.out, "%s — %s (%s)\n", session.Actor, session.Objective, session.Status)
	events := session.Events
	if !all && len(events) > 10 {
		fmt.Fprintf(a.out, "… %d earlier events (use /executor all)\n", len(events)-10)
		events = events[len(events)-10:]
	}
	for _, ev := range events {
		fmt.Fprintf(a.out, "  [%s] %s\n", ev.Source, ev.Summary)
		if all && ev.Detail != "" {
			fmt.Fprintln(a.out, "    "+ev.Detail)
		}
	}
	switch {
	case session.ErrorMessage != "":
		fmt.Fprintln(a.out, "Failed:", session.ErrorMessage)
	case session.ResultSummary != "":
		fmt.Fprintln(a.out, "Result:", session.ResultSummary)
	}
}

func (a *App) schedulerCmd(args []string) error {
	cfg := a.store.SchedulerConfig()

	if len(args) == 0 {
		state := "off"
		if cfg.Enabled {
			state = "on"
		}
		budget := "none"
		if cfg.MaxUSDPerTask != nil {
			budget = fmt.Sprintf("$%.2f", *cfg.MaxUSDPerTask)
		}
		fmt.Fprintf(a.out, "Scheduler: %s · quality %s · budget %s\n", state, cfg.QualityTarget, budget)
		a.printLeaderboard()
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "on":
		cfg.Enabled = true
	case "off":
		cfg.Enabled = false
	case "quality":
		if len(args) < 2 {
			return errors.New("usage: /scheduler quality <e|b|h>")
		}
		switch strings.ToLower(args[1]) {
		case "e", "economy":
			cfg.QualityTarget = sched.QualityEconomy
		case "b", "balanced":
			cfg.QualityTarget = sched.QualityBalanced
		case "h", "high":
			cfg.QualityTarget = sched.QualityHigh
		default:
			return fmt.Errorf("unknown quality target %q", args[1])
		}
	case "budget":
		if len(args) < 2 {
			return errors.New("usage: /scheduler budget <usd|none>")
		}
		if strings.EqualFold(args[1], "none") {
			cfg.MaxUSDPerTask = nil
		} else {
			usd, err := strconv.ParseFloat(args[1], 64)
			if err != nil || usd <= 0 {
				return fmt.Errorf("invalid budget %q", args[1])
			}
			cfg.MaxUSDPerTask = &usd
		}
	case "reset":
		cfg = sched.Default()
	default:
		return fmt.Errorf("unknown scheduler action %q", args[0])
	}

	if err := a.store.SaveSchedulerConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Scheduler updated.")
	return nil
}

func (a *App) printLeaderboard() {
	stats, err := a.telemetry.Leaderboard(5)
	if err != nil || len(stats) == 0 {
		fmt.Fprintln(a.out, "No routing telemetry yet.")
		return
	}
	fmt.Fprintln(a.out, "Leaderboard:")
	for i, s := range stats {
		fmt.Fprintf(a.out, "  %d. %-40s %3d runs · %.0f%% ok · $%.4f avg · %.0fms\n",
			i+1, s.Key(), s.Runs, s.SuccessRate*100, s.AvgCost, s.AvgLatency)
	}
}

func (a *App) policyCmd(args []string) error {
	cfg := a.store.PolicyConfig(a.cfg.Policy.WorkspaceRoot)

	if len(args) == 0 {
		state := "off"
		if cfg.Enabled {
			state = "on"
		}
		fmt.Fprintf(a.out, "Policy: %s · mode %s · workspace %s\n", state, cfg.Mode, cfg.ProtectedWorkspaceRoot)
		if len(cfg.BlockedCommandPatterns) > 0 {
			fmt.Fprintln(a.out, "Blocked patterns:")
			for _, p := range cfg.BlockedCommandPatterns {
				fmt.Fprintln(a.out, "  "+p)
			}
		}
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "strict":
		cfg.Mode = policy.ModeStrict
	case "balanced":
		cfg.Mode = policy.ModeBalanced
	case "relaxed":
		cfg.Mode = policy.ModeRelaxed
	case "on":
		cfg.Enabled = true
	case "off":
		cfg.Enabled = false
	case "confirm":
		if len(args) < 3 {
			return errors.New("usage: /policy confirm <target> <on|off>")
		}
		if cfg.RequireConfirmation == nil {
			cfg.RequireConfirmation = make(map[string]bool)
		}
		cfg.RequireConfirmation[strings.ToLower(args[1])] = strings.EqualFold(args[2], "on")
	case "block":
		if len(args) < 2 {
			return errors.New("usage: /policy block <regex>")
		}
		pattern := strings.Join(args[1:], " ")
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		cfg.BlockedCommandPatterns = append(cfg.BlockedCommandPatterns, pattern)
	case "unblock":
		if len(args) < 2 {
			return errors.New("usage: /policy unblock <regex>")
		}
		pattern := strings.Join(args[1:], " ")
		kept := cfg.BlockedCommandPatterns[:0]
		for _, p := range cfg.BlockedCommandPatterns {
			if p != pattern {
				kept = append(kept, p)
			}
		}
		cfg.BlockedCommandPatterns = kept
	case "reset":
		cfg = policy.Default(a.cfg.Policy.WorkspaceRoot)
	default:
		return fmt.Errorf("unknown policy action %q", args[0])
	}

	if err := a.store.SavePolicyConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Policy updated.")
	return nil
}

func (a *App) evalCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		state := "clear"
		if a.harness.Blocked() {
			state = "blocked"
		}
		fmt.Fprintf(a.out, "Eval gate: %s. Usage: /eval init|run|leaderboard|trend|unblock\n", state)
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "init":
		if err := a.harness.Init(); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Eval cases ready.")
	case "run":
		run, err := a.harness.Execute(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Pass rate %.0f%% (%d failed, threshold %.0f%%)\n",
			run.PassRate*100, run.Failed, run.Threshold*100)
		for _, r := range run.Results {
			if r.Passed {
				continue
			}
			fmt.Fprintf(a.out, "  FAIL %s: %s\n", r.ID, strings.Join(r.Reasons, "; "))
		}
		if run.Blocked {
			fmt.Fprintln(a.out, "Gate is now blocked. /eval unblock to override.")
		}
	case "leaderboard":
		board, err := a.harness.Leaderboard()
		if err != nil {
			return err
		}
		if len(board) == 0 {
			fmt.Fprintln(a.out, "No eval history yet.")
			return nil
		}
		for i, s := range board {
			fmt.Fprintf(a.out, "  %d. %s:%s %.0f%% over %d cases\n",
				i+1, s.Provider, s.Model, s.PassRate()*100, s.Cases)
		}
	case "trend":
		runs, err := a.harness.Trend()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(a.out, "No eval history yet.")
			return nil
		}
		for _, r := range runs {
			at := time.UnixMilli(r.At).Format("2006-01-02 15:04")
			fmt.Fprintf(a.out, "  %s  %.0f%% (%d failed)\n", at, r.PassRate*100, r.Failed)
		}
	case "unblock":
		if err := a.harness.Unblock(); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Eval gate cleared.")
	default:
		return fmt.Errorf("unknown eval action %q", args[0])
	}
	return nil
}

// Sessions exposes the executor log for frontends sharing this app.
func (a *App) Sessions() *pipeline.SessionLog { return a.pipe.Sessions }
