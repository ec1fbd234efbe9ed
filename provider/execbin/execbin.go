// Package execbin adapts a local agent runtime binary to the provider
// interface. Instead of an HTTP API the "wire protocol" is a subprocess:
// the binary is spawned per request, its stdout/stderr lines become
// progress events, and the final answer is read from a temp file the
// binary writes on exit.
package execbin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"relay"
)

const defaultTimeout = 10 * time.Minute

// defaultModels is the static catalog; the binary has no list endpoint.
var defaultModels = []relay.ModelDescriptor{
	{ID: "gpt-5-codex", Name: "GPT-5 Codex", ContextWindow: 272_000, MaxTokens: 128_000},
	{ID: "gpt-5", Name: "GPT-5", ContextWindow: 272_000, MaxTokens: 128_000},
}

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout sets the maximum run duration. Default: 10m.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithWorkDir sets the directory the binary runs in and is granted access
// to. Default: the user home directory.
func WithWorkDir(dir string) Option {
	return func(p *Provider) { p.workDir = dir }
}

// WithModels replaces the static model catalog.
func WithModels(models []relay.ModelDescriptor) Option {
	return func(p *Provider) { p.models = models }
}

// Provider runs prompts through a local runtime binary.
type Provider struct {
	binPath string
	workDir string
	timeout time.Duration
	models  []relay.ModelDescriptor
}

var _ relay.Provider = (*Provider)(nil)

// New creates a Provider that spawns binPath for each request.
func New(binPath string, opts ...Option) *Provider {
	p := &Provider{
		binPath: binPath,
		timeout: defaultTimeout,
		models:  defaultModels,
	}
	for _, o := range opts {
		o(p)
	}
	if p.workDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			p.workDir = home
		} else {
			p.workDir = os.TempDir()
		}
	}
	return p
}

func (p *Provider) Name() relay.ProviderID { return relay.ProviderCoder }

// ResolveBaseURL returns the binary path; there is no HTTP endpoint.
func (p *Provider) ResolveBaseURL(_ relay.Credential) string { return p.binPath }

func (p *Provider) ListModels(_ context.Context, _ relay.Credential) ([]relay.ModelDescriptor, error) {
	out := make([]relay.ModelDescriptor, len(p.models))
	copy(out, p.models)
	return out, nil
}

// args builds the fixed flag set. MCP servers are disabled via a config
// override so a run never talks to external tool servers.
func (p *Provider) args(model, lastMessagePath, prompt string) []string {
	return []string{
		"exec",
		"-c", "mcp_servers={}",
		"--sandbox", "workspace-write",
		"--ephemeral",
		"--skip-git-repo-check",
		"--add-dir", p.workDir,
		"--color", "never",
		"--output-last-message", lastMessagePath,
		"--model", model,
		"--cd", p.workDir,
		prompt,
	}
}

// Invoke spawns the binary and streams its output lines as progress
// events. The final message file is removed on every exit path.
func (p *Provider) Invoke(ctx context.Context, _ relay.Credential, model relay.ModelDescriptor, prompt string, opts relay.InvokeOptions, ch chan<- relay.StreamEvent) (relay.InvokeResult, error) {
	defer close(ch)

	if p.binPath == "" {
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.Name(), Message: "runtime binary not configured"}
	}

	tmp, err := os.CreateTemp("", "relay-exec-*.txt")
	if err != nil {
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("create output file: %v", err)}
	}
	lastMessagePath := tmp.Name()
	tmp.Close()
	defer os.Remove(lastMessagePath)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binPath, p.args(model.ID, lastMessagePath, prompt)...)
	cmd.Dir = p.workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("stderr pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("start %s: %v", p.binPath, err)}
	}

	var (
		mu       sync.Mutex
		tail     []string
		wg       sync.WaitGroup
		lastLine string
	)
	emit := func(line string) {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			return
		}
		mu.Lock()
		lastLine = line
		tail = append(tail, line)
		if len(tail) > 200 {
			tail = tail[len(tail)-200:]
		}
		mu.Unlock()
		if opts.Progress != nil {
			opts.Progress(line)
		}
		select {
		case ch <- relay.StreamEvent{Type: relay.EventProgress, Content: line}:
		case <-ctx.Done():
		}
	}

	for _, r := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				emit(scanner.Text())
			}
		}(r)
	}
	wg.Wait()

	waitErr := cmd.Wait()

	final, readErr := os.ReadFile(lastMessagePath)
	text := strings.TrimSpace(string(bytes.TrimSpace(final)))

	if waitErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("run timed out after %s", p.timeout)}
		}
		mu.Lock()
		detail := strings.Join(tail, "\n")
		mu.Unlock()
		if len(detail) > 2000 {
			detail = detail[len(detail)-2000:]
		}
		return relay.InvokeResult{}, &relay.ErrLLM{Provider: p.Name(), Message: fmt.Sprintf("runtime exited: %v\n%s", waitErr, detail)}
	}

	if text == "" {
		// Older runtime versions do not honor --output-last-message;
		// the last stdout line is the answer then.
		mu.Lock()
		text = strings.TrimSpace(lastLine)
		mu.Unlock()
	}
	if text == "" {
		if readErr != nil {
			return relay.InvokeResult{}, &relay.ErrProtocol{Provider: p.Name(), Message: "read final message: " + readErr.Error()}
		}
		return relay.InvokeResult{}, &relay.ErrProtocol{Provider: p.Name(), Message: "runtime produced no final message"}
	}

	select {
	case ch <- relay.StreamEvent{Type: relay.EventTextDelta, Content: text}:
	case <-ctx.Done():
		return relay.InvokeResult{}, ctx.Err()
	}

	result := relay.InvokeResult{Text: text}
	result.Usage = relay.EstimateUsage(result.Usage, prompt, text)
	return result, nil
}
