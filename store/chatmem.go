package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	chatMemMaxBytes  = 900 * 1024
	chatMemKeepBytes = 600 * 1024
)

// ChatMemory appends per-chat conversation turns to a markdown log,
// one file per chat, created lazily.
type ChatMemory struct {
	dir string
}

// NewChatMemory returns a log rooted at dir.
func NewChatMemory(dir string) *ChatMemory {
	return &ChatMemory{dir: dir}
}

// PathFor returns the log file for one chat.
func (m *ChatMemory) PathFor(chatID string) string {
	return filepath.Join(m.dir, chatID+".md")
}

// AppendTurn records one user/assistant exchange. When the file grows past
// 900 KB it is compacted to its trailing 600 KB.
func (m *ChatMemory) AppendTurn(chatID, userText, assistantText string) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("chat memory: mkdir: %w", err)
	}
	path := m.PathFor(chatID)

	ts := time.Now().Format(time.RFC3339)
	entry := fmt.Sprintf("**User** @ %s\n\n%s\n\n**Assistant** @ %s\n\n%s\n\n---\n\n",
		ts, userText, ts, assistantText)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("chat memory: open: %w", err)
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return fmt.Errorf("chat memory: append: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chat memory: close: %w", err)
	}

	return m.compact(path)
}

// Tail returns up to maxChars of the most recent log content.
func (m *ChatMemory) Tail(chatID string, maxChars int) (string, error) {
	data, err := os.ReadFile(m.PathFor(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if len(data) > maxChars {
		data = data[len(data)-maxChars:]
	}
	return string(data), nil
}

func (m *ChatMemory) compact(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= chatMemMaxBytes {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("chat memory: read for compaction: %w", err)
	}
	kept := data[len(data)-chatMemKeepBytes:]

	tmp, err := os.CreateTemp(m.dir, ".compact-*")
	if err != nil {
		return fmt.Errorf("chat memory: temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(kept); err != nil {
		tmp.Close()
		return fmt.Errorf("chat memory: write compacted: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("chat memory: close compacted: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
