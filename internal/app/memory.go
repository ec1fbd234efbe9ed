package app

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"relay"
	"relay/memctx"
)

// transcriptCap bounds the in-process session transcript.
const transcriptCap = 64 * 1024

// memoryFile is the on-disk form of the external memory collaborator.
type memoryFile struct {
	Excerpts []struct {
		Text string `json:"text"`
		At   int64  `json:"at"`
	} `json:"excerpts"`
	Rules []string `json:"rules"`
}

// sessionMemory reads saved memories from memory-state.json and keeps the
// current session's transcript in process. It backs both the memory-context
// bridge and the pipeline's turn store.
type sessionMemory struct {
	path string

	mu         sync.Mutex
	transcript strings.Builder
}

var (
	_ memctx.Provider = (*sessionMemory)(nil)
	_ relay.Memory    = (*sessionMemory)(nil)
)

func newSessionMemory(path string) *sessionMemory {
	return &sessionMemory{path: path}
}

func (m *sessionMemory) load() (memoryFile, error) {
	var file memoryFile
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, err
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return memoryFile{}, err
	}
	return file, nil
}

func (m *sessionMemory) Excerpts(ctx context.Context) ([]memctx.Excerpt, error) {
	file, err := m.load()
	if err != nil {
		return nil, err
	}
	out := make([]memctx.Excerpt, 0, len(file.Excerpts))
	for _, e := range file.Excerpts {
		out = append(out, memctx.Excerpt{Text: e.Text, At: e.At})
	}
	return out, nil
}

func (m *sessionMemory) Rules(ctx context.Context) ([]string, error) {
	file, err := m.load()
	if err != nil {
		return nil, err
	}
	return file.Rules, nil
}

func (m *sessionMemory) SessionTail(ctx context.Context, maxChars int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tail := m.transcript.String()
	if maxChars > 0 && len(tail) > maxChars {
		tail = tail[len(tail)-maxChars:]
	}
	return tail, nil
}

// MemoryContext is unused; enrichment goes through the memctx bridge.
func (m *sessionMemory) MemoryContext(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func (m *sessionMemory) SaveTurn(ctx context.Context, userText, assistantText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript.WriteString("User: ")
	m.transcript.WriteString(strings.TrimSpace(userText))
	m.transcript.WriteString("\nAssistant: ")
	m.transcript.WriteString(strings.TrimSpace(assistantText))
	m.transcript.WriteString("\n")
	if m.transcript.Len() > transcriptCap {
		trimmed := m.transcript.String()
		trimmed = trimmed[len(trimmed)-transcriptCap/2:]
		m.transcript.Reset()
		m.transcript.WriteString(trimmed)
	}
	return nil
}
