package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relay"
	"relay/router"
)

func TestRouterConfig_RoundTrip(t *testing.T) {
	s := New(t.TempDir())

	cfg := router.Default()
	cfg.DefaultProvider = string(relay.ProviderGroq)
	if err := s.SaveRouterConfig(cfg); err != nil {
		t.Fatal(err)
	}

	got := s.RouterConfig()
	if got.DefaultProvider != string(relay.ProviderGroq) {
		t.Errorf("DefaultProvider = %q", got.DefaultProvider)
	}
}

func TestRouterConfig_MissingFileWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	got := s.RouterConfig()
	if got.DefaultProvider != "auto" {
		t.Errorf("DefaultProvider = %q, want auto", got.DefaultProvider)
	}
	if _, err := os.Stat(filepath.Join(dir, "ai-router.json")); err != nil {
		t.Errorf("defaults not persisted: %v", err)
	}
}

func TestRouterConfig_CorruptFileRewritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ai-router.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(dir)
	got := s.RouterConfig()
	if got.DefaultProvider != "auto" {
		t.Errorf("DefaultProvider = %q, want auto after rewrite", got.DefaultProvider)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "defaultProvider") {
		t.Errorf("file not rewritten: %s", data)
	}
}

func TestRouterConfig_NormalizedOnRead(t *testing.T) {
	dir := t.TempDir()
	raw := `{"defaultProvider":"bogus-provider"}`
	if err := os.WriteFile(filepath.Join(dir, "ai-router.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	got := New(dir).RouterConfig()
	if got.DefaultProvider != "auto" {
		t.Errorf("unknown provider not collapsed: %q", got.DefaultProvider)
	}
}

func TestSchedulerAndPolicyConfig_Defaults(t *testing.T) {
	s := New(t.TempDir())

	sc := s.SchedulerConfig()
	if sc.QualityTarget == "" {
		t.Error("scheduler defaults empty")
	}

	pc := s.PolicyConfig("/srv/www")
	if pc.ProtectedWorkspaceRoot != "/srv/www" {
		t.Errorf("ProtectedWorkspaceRoot = %q", pc.ProtectedWorkspaceRoot)
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.SaveRouterConfig(router.Default()); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestChatMemory_AppendAndTail(t *testing.T) {
	m := NewChatMemory(t.TempDir())

	if err := m.AppendTurn("42", "what is nginx?", "a web server"); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendTurn("42", "restart it", "done"); err != nil {
		t.Fatal(err)
	}

	tail, err := m.Tail("42", 10_000)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tail, "what is nginx?") || !strings.Contains(tail, "done") {
		t.Errorf("tail missing turns: %q", tail)
	}

	// Unknown chat is empty, not an error.
	if tail, err := m.Tail("nope", 100); err != nil || tail != "" {
		t.Errorf("Tail(unknown) = (%q, %v)", tail, err)
	}
}

func TestChatMemory_Compaction(t *testing.T) {
	m := NewChatMemory(t.TempDir())
	big := strings.Repeat("x", 500*1024)

	if err := m.AppendTurn("9", "first marker", big); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendTurn("9", "second marker", big); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(m.PathFor("9"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > chatMemKeepBytes+1024 {
		t.Errorf("size = %d, want <= %d", info.Size(), chatMemKeepBytes)
	}
	data, _ := os.ReadFile(m.PathFor("9"))
	if strings.Contains(string(data), "first marker") {
		t.Error("compaction kept the head instead of the tail")
	}
	if !strings.Contains(string(data), "second marker") {
		t.Error("compaction dropped the newest turn")
	}
}
