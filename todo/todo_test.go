package todo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"relay"
)

type stubExecutor struct {
	prompts []string
	failAt  int // 1-based step to fail, 0 = never
}

func (s *stubExecutor) Name() relay.ProviderID { return relay.ProviderCoder }

func (s *stubExecutor) ListModels(_ context.Context, _ relay.Credential) ([]relay.ModelDescriptor, error) {
	return nil, nil
}

func (s *stubExecutor) ResolveBaseURL(_ relay.Credential) string { return "" }

func (s *stubExecutor) Invoke(_ context.Context, _ relay.Credential, _ relay.ModelDescriptor, prompt string, _ relay.InvokeOptions, ch chan<- relay.StreamEvent) (relay.InvokeResult, error) {
	close(ch)
	s.prompts = append(s.prompts, prompt)
	if s.failAt > 0 && len(s.prompts) == s.failAt {
		return relay.InvokeResult{}, errors.New("step blew up")
	}
	return relay.InvokeResult{Text: "step output " + prompt[:20]}, nil
}

func plannerOf(reply string) Planner {
	return PlannerFunc(func(_ context.Context, _ string) (string, error) {
		return reply, nil
	})
}

func TestParsePlan(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  []string
	}{
		{"plain object", `{"tasks": ["install nginx", "configure site", "start service"]}`,
			[]string{"install nginx", "configure site", "start service"}},
		{"fenced block", "Sure!\n```json\n{\"tasks\": [\"one\", \"two\"]}\n```",
			[]string{"one", "two"}},
		{"title objects", `{"tasks": [{"title": "first"}, {"title": "second"}]}`,
			[]string{"first", "second"}},
		{"bare array", `["alpha", "beta"]`, []string{"alpha", "beta"}},
		{"loose json", `{tasks: ['one', 'two'],}`, []string{"one", "two"}},
	}
	for _, tc := range cases {
		got := parsePlan(tc.reply)
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s[%d]: got %q, want %q", tc.name, i, got[i], tc.want[i])
			}
		}
	}

	if got := parsePlan("I cannot plan this."); got != nil {
		t.Errorf("prose reply should yield no tasks, got %v", got)
	}
}

func TestFallbackPlan(t *testing.T) {
	tasks := fallbackPlan("setup nginx and deploy the site, then verify health")
	if len(tasks) < 3 {
		t.Fatalf("tasks = %v", tasks)
	}
	if tasks[0] != "setup nginx" {
		t.Errorf("first task = %q", tasks[0])
	}

	single := fallbackPlan("just do it")
	if len(single) == 0 {
		t.Fatal("fallback must always produce at least one task")
	}
}

func TestRun_HappyPath(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(t.TempDir())
	o := New(plannerOf(`{"tasks": ["install nginx", "configure site", "start service"]}`), exec, store)

	out, err := o.Run(context.Background(), "setup nginx and deploy")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exec.prompts) != 3 {
		t.Fatalf("steps executed = %d", len(exec.prompts))
	}
	for _, want := range []string{"3/3 completed", "Todo run id: ", "step output"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	// each step prompt embeds the full plan and highlights the current task
	if !strings.Contains(exec.prompts[1], "> 2.") || !strings.Contains(exec.prompts[1], "install nginx") {
		t.Errorf("step prompt = %q", exec.prompts[1])
	}
}

func TestRun_StepFailureAborts(t *testing.T) {
	exec := &stubExecutor{failAt: 2}
	store := NewStore(t.TempDir())
	o := New(plannerOf(`{"tasks": ["one", "two", "three"]}`), exec, store)

	_, err := o.Run(context.Background(), "objective")
	if err == nil {
		t.Fatal("expected abort")
	}
	if !strings.Contains(err.Error(), "step t2") {
		t.Errorf("error should name the step: %v", err)
	}
	if len(exec.prompts) != 2 {
		t.Errorf("steps executed = %d, want 2", len(exec.prompts))
	}
}

func TestRun_PersistsStatusTransitions(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(t.TempDir())
	o := New(plannerOf(`{"tasks": ["a", "b"]}`), exec, store)

	out, err := o.Run(context.Background(), "objective")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// recover the run id from the summary and reload from disk
	var runID string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Todo run id: ") {
			runID = strings.TrimPrefix(line, "Todo run id: ")
		}
	}
	if runID == "" {
		t.Fatalf("no run id in summary:\n%s", out)
	}

	run, err := store.Load(runID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(run.Tasks) != 2 {
		t.Fatalf("tasks = %+v", run.Tasks)
	}
	for _, task := range run.Tasks {
		if task.Status != StatusCompleted {
			t.Errorf("task %s status = %s", task.ID, task.Status)
		}
		if task.Note == "" {
			t.Errorf("task %s has no note", task.ID)
		}
	}
	if run.Progress() != "2/2 completed" {
		t.Errorf("progress = %q", run.Progress())
	}
}

func TestRun_PlannerFallbackOnShortPlan(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(t.TempDir())
	// planner returns a single task; the deterministic splitter takes over
	o := New(plannerOf(`{"tasks": ["only one"]}`), exec, store)

	_, err := o.Run(context.Background(), "install the tool and configure it")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exec.prompts) < 2 {
		t.Errorf("fallback plan should split into 2+ steps, got %d", len(exec.prompts))
	}
}
