package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// shellTailLimit bounds how much captured output is shown after a run.
const shellTailLimit = 5000

const defaultShellTimeout = 5 * time.Minute

// ShellResult is the outcome of one streamed shell command.
type ShellResult struct {
	ExitCode int
	Duration time.Duration
	Output   string // bounded tail of interleaved stdout+stderr
}

// StatusLine renders the exit/duration summary shown after the tail.
func (r ShellResult) StatusLine() string {
	return fmt.Sprintf("exit %d in %s", r.ExitCode, r.Duration.Round(time.Millisecond))
}

// runShell executes a command via the shell, streaming each output line to
// the session log, and returns a bounded tail. Non-zero exit is reported in
// the result, not as an error; err is reserved for spawn failures.
func runShell(ctx context.Context, command, dir string, log *SessionLog, timeout time.Duration) (ShellResult, error) {
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ShellResult{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ShellResult{}, err
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return ShellResult{}, err
	}

	var (
		mu  sync.Mutex
		buf strings.Builder
		wg  sync.WaitGroup
	)
	capture := func(r io.Reader, source EventSource) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			buf.WriteString(line)
			buf.WriteByte('\n')
			mu.Unlock()
			if log != nil {
				log.Event(source, SummarizeProgress(line), line)
			}
		}
	}
	wg.Add(2)
	go capture(stdout, SourceStdout)
	go capture(stderr, SourceStderr)
	wg.Wait()

	waitErr := cmd.Wait()
	result := ShellResult{Duration: time.Since(started), Output: tailOf(buf.String(), shellTailLimit)}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		result.ExitCode = -1
		result.Output += "\n(timed out after " + timeout.String() + ")"
	case waitErr != nil:
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, waitErr
		}
	}
	return result, nil
}

// tailOf keeps the last max bytes of s, cutting at a line boundary when one
// is near.
func tailOf(s string, max int) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= max {
		return s
	}
	cut := s[len(s)-max:]
	if nl := strings.IndexByte(cut, '\n'); nl >= 0 && nl < 200 {
		cut = cut[nl+1:]
	}
	return "… " + cut
}
