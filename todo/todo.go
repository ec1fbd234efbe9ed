// Package todo decomposes a long-horizon objective into ordered tasks and
// runs each through the system executor, persisting run state after every
// status transition.
package todo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"relay"
)

// TaskStatus is the lifecycle state of one task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Task is one step of a run. Identity is append-only: only Status and Note
// mutate after creation.
type Task struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
	Note   string     `json:"note,omitempty"`
}

// Run is a persisted orchestration run.
type Run struct {
	RunID     string `json:"runId"`
	Objective string `json:"objective"`
	CreatedAt int64  `json:"createdAt"`
	Tasks     []Task `json:"tasks"`
}

// Progress renders the "N/M completed" line.
func (r *Run) Progress() string {
	done := 0
	for _, t := range r.Tasks {
		if t.Status == StatusCompleted {
			done++
		}
	}
	return fmt.Sprintf("%d/%d completed", done, len(r.Tasks))
}

// Planner produces the planning text for an objective; usually a router
// call with a small token cap.
type Planner interface {
	Plan(ctx context.Context, objective string) (string, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, objective string) (string, error)

func (f PlannerFunc) Plan(ctx context.Context, objective string) (string, error) {
	return f(ctx, objective)
}

// noteLimit trims per-task completion notes.
const noteLimit = 200

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithProgressSink sets a hook receiving executor progress lines per step.
func WithProgressSink(fn func(line string)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithExecModel overrides the executor model id.
func WithExecModel(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.execModel = id
		}
	}
}

// Orchestrator plans and executes todo runs.
type Orchestrator struct {
	planner   Planner
	executor  relay.Provider
	store     *Store
	execModel string
	progress  func(line string)
	log       *slog.Logger
}

// New creates an Orchestrator. planner produces the task list, executor is
// the system runtime adapter, store persists run state.
func New(planner Planner, executor relay.Provider, store *Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:   planner,
		executor:  executor,
		store:     store,
		execModel: "gpt-5-codex",
		log:       nopLogger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run decomposes the objective and executes every task in order. A failed
// task aborts the whole run with an error naming the step.
func (o *Orchestrator) Run(ctx context.Context, objective string) (string, error) {
	titles := o.planTasks(ctx, objective)

	run := &Run{
		RunID:     relay.NewID(),
		Objective: objective,
		CreatedAt: relay.NowUnixMilli(),
	}
	for i, title := range titles {
		run.Tasks = append(run.Tasks, Task{
			ID:     fmt.Sprintf("t%d", i+1),
			Title:  title,
			Status: StatusPending,
		})
	}
	if err := o.store.Save(run); err != nil {
		return "", fmt.Errorf("persist todo run: %w", err)
	}

	var finalOutput string
	for i := range run.Tasks {
		task := &run.Tasks[i]
		task.Status = StatusInProgress
		if err := o.store.Save(run); err != nil {
			return "", fmt.Errorf("persist todo run: %w", err)
		}
		o.log.Info("todo step", "run", run.RunID, "task", task.ID, "title", task.Title)

		output, err := o.runStep(ctx, run, i)
		if err != nil {
			task.Status = StatusFailed
			task.Note = trimNote(err.Error())
			if saveErr := o.store.Save(run); saveErr != nil {
				o.log.Warn("persist failed run", "err", saveErr)
			}
			return "", fmt.Errorf("todo run %s aborted at step %s: %w", run.RunID, task.ID, err)
		}
		task.Status = StatusCompleted
		task.Note = trimNote(output)
		if err := o.store.Save(run); err != nil {
			return "", fmt.Errorf("persist todo run: %w", err)
		}
		finalOutput = output
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(finalOutput))
	b.WriteString("\n\n")
	b.WriteString(run.Progress())
	b.WriteString("\nTodo run id: ")
	b.WriteString(run.RunID)
	b.WriteString("\nSaved to: ")
	b.WriteString(o.store.PathFor(run.RunID))
	return b.String(), nil
}

// planTasks asks the model for a plan and falls back to the deterministic
// splitter when the reply has fewer than two tasks.
func (o *Orchestrator) planTasks(ctx context.Context, objective string) []string {
	if o.planner != nil {
		reply, err := o.planner.Plan(ctx, planningPrompt(objective))
		if err == nil {
			if tasks := parsePlan(reply); len(tasks) >= 2 {
				return tasks
			}
		} else {
			o.log.Warn("planner failed, using fallback", "err", err)
		}
	}
	return fallbackPlan(objective)
}

func planningPrompt(objective string) string {
	return "Break the following objective into a short ordered task list. " +
		`Reply with JSON only: {"tasks": ["..."]}` + "\n\nObjective: " + objective
}

// runStep invokes the system executor with the full plan, highlighting the
// current task.
func (o *Orchestrator) runStep(ctx context.Context, run *Run, idx int) (string, error) {
	var b strings.Builder
	b.WriteString("Objective: ")
	b.WriteString(run.Objective)
	b.WriteString("\n\nPlan:\n")
	for i, t := range run.Tasks {
		marker := "  "
		if i == idx {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%d. [%s] %s\n", marker, i+1, t.Status, t.Title)
	}
	fmt.Fprintf(&b, "\nExecute step %d now: %s\n", idx+1, run.Tasks[idx].Title)

	opts := relay.InvokeOptions{Progress: o.progress}
	ch := make(chan relay.StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()
	result, err := o.executor.Invoke(ctx, relay.Credential{}, relay.ModelDescriptor{ID: o.execModel}, b.String(), opts, ch)
	<-done
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func trimNote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > noteLimit {
		s = s[:noteLimit] + "…"
	}
	return s
}
