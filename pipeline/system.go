package pipeline

import (
	"context"
	"strings"

	"relay"
)

// directCommands are inventory lookups answered with a plain shell command
// instead of spinning up the runtime binary.
var directCommands = []struct {
	markers []string
	command string
}{
	{[]string{"installed packages", "list packages", "what packages"}, "dpkg-query -W -f '${Package} ${Version}\\n' 2>/dev/null | head -60 || pip list 2>/dev/null | head -60"},
	{[]string{"go version", "golang version"}, "go version"},
	{[]string{"node version", "nodejs version"}, "node --version"},
	{[]string{"python version"}, "python3 --version"},
	{[]string{"git version"}, "git --version"},
	{[]string{"docker version"}, "docker --version"},
	{[]string{"disk space", "disk usage"}, "df -h"},
	{[]string{"memory usage", "free memory"}, "free -h"},
}

// directCommand returns the shell command for an inventory-style prompt.
func directCommand(prompt string) (string, bool) {
	lower := strings.ToLower(prompt)
	for _, dc := range directCommands {
		for _, marker := range dc.markers {
			if strings.Contains(lower, marker) {
				return dc.command, true
			}
		}
	}
	return "", false
}

// runSystemExecutor drives the runtime binary for a long-horizon objective,
// classifying progress lines into display categories on the session log.
func (p *Pipeline) runSystemExecutor(ctx context.Context, prompt string) (string, error) {
	model := relay.ModelDescriptor{ID: p.execModel}
	opts := relay.InvokeOptions{
		Progress: func(line string) {
			p.Sessions.Event(SourceStdout, SummarizeProgress(line), line)
		},
	}

	ch := make(chan relay.StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
			// progress already mirrored through opts.Progress
		}
	}()
	result, err := p.exec.Invoke(ctx, relay.Credential{}, model, prompt, opts, ch)
	<-done
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
