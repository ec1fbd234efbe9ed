package execbin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relay"
)

// fakeRuntime writes a shell script that mimics the runtime binary: it
// prints progress lines, then writes the final message to the path given
// after --output-last-message.
func fakeRuntime(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake runtime: %v", err)
	}
	return path
}

// lastMessageArg extracts the --output-last-message value from "$@".
const lastMessageArg = `
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output-last-message" ]; then out="$a"; fi
  prev="$a"
done
`

func TestInvoke_FinalMessageAndProgress(t *testing.T) {
	bin := fakeRuntime(t, lastMessageArg+`
echo "thinking about it"
echo "running tests" >&2
printf 'all done\n' > "$out"
`)
	p := New(bin, WithWorkDir(t.TempDir()))

	var progress []string
	ch := make(chan relay.StreamEvent, 32)
	res, err := p.Invoke(context.Background(), relay.Credential{}, relay.ModelDescriptor{ID: "gpt-5-codex"}, "fix the build",
		relay.InvokeOptions{Progress: func(line string) { progress = append(progress, line) }}, ch)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "all done" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Usage.TotalTokens == 0 {
		t.Errorf("usage not estimated: %+v", res.Usage)
	}

	joined := strings.Join(progress, "\n")
	if !strings.Contains(joined, "thinking about it") || !strings.Contains(joined, "running tests") {
		t.Errorf("progress = %q", joined)
	}

	var sawFinal bool
	for ev := range ch {
		if ev.Type == relay.EventTextDelta && ev.Content == "all done" {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Error("final text delta not streamed")
	}
}

func TestInvoke_FlagSet(t *testing.T) {
	work := t.TempDir()
	argsFile := filepath.Join(work, "args.txt")
	bin := fakeRuntime(t, lastMessageArg+`
printf '%s\n' "$@" > `+argsFile+`
printf 'ok' > "$out"
`)
	p := New(bin, WithWorkDir(work))

	ch := make(chan relay.StreamEvent, 8)
	if _, err := p.Invoke(context.Background(), relay.Credential{}, relay.ModelDescriptor{ID: "gpt-5"}, "hello", relay.InvokeOptions{}, ch); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for range ch {
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")

	if args[0] != "exec" {
		t.Errorf("first arg = %q", args[0])
	}
	for _, want := range []string{"--sandbox", "workspace-write", "--ephemeral", "--skip-git-repo-check", "--color", "never", "--model", "gpt-5"} {
		if !contains(args, want) {
			t.Errorf("missing arg %q in %v", want, args)
		}
	}
	if args[len(args)-1] != "hello" {
		t.Errorf("prompt not last: %v", args)
	}
	if !contains(args, "--cd") || !contains(args, work) {
		t.Errorf("--cd %s missing in %v", work, args)
	}
}

func TestInvoke_NonZeroExit(t *testing.T) {
	bin := fakeRuntime(t, `
echo "model not available" >&2
exit 3
`)
	p := New(bin, WithWorkDir(t.TempDir()))

	ch := make(chan relay.StreamEvent, 8)
	_, err := p.Invoke(context.Background(), relay.Credential{}, relay.ModelDescriptor{ID: "gpt-5"}, "hello", relay.InvokeOptions{}, ch)
	if err == nil {
		t.Fatal("expected error on non-zero exit")
	}
	if !strings.Contains(err.Error(), "model not available") {
		t.Errorf("error should carry stderr tail: %v", err)
	}
	// the channel must close even on the error path
	for range ch {
	}
}

func TestInvoke_FallbackToLastStdoutLine(t *testing.T) {
	// Runtime that ignores --output-last-message entirely.
	bin := fakeRuntime(t, `
echo "step one"
echo "the actual answer"
`)
	p := New(bin, WithWorkDir(t.TempDir()))

	ch := make(chan relay.StreamEvent, 8)
	res, err := p.Invoke(context.Background(), relay.Credential{}, relay.ModelDescriptor{ID: "gpt-5"}, "q", relay.InvokeOptions{}, ch)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for range ch {
	}
	if res.Text != "the actual answer" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestListModels_Static(t *testing.T) {
	p := New("/usr/local/bin/runtime")
	models, err := p.ListModels(context.Background(), relay.Credential{})
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("empty catalog")
	}
	if p.ResolveBaseURL(relay.Credential{}) != "/usr/local/bin/runtime" {
		t.Errorf("ResolveBaseURL = %q", p.ResolveBaseURL(relay.Credential{}))
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
