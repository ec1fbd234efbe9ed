// Package store persists relay configuration and run artifacts as plain
// files under a single directory, default ${HOME}/.relay/store. Config
// files are normalized on read; corrupt files are rewritten with defaults
// rather than failing the caller.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"relay/policy"
	"relay/router"
	"relay/sched"
)

const (
	routerFile    = "ai-router.json"
	schedulerFile = "scheduler-config.json"
	policyFile    = "policy-config.json"
	telemetryFile = "scheduler-telemetry.jsonl"
	todoDir       = "todo-runs"
	chatMemDir    = "telegram-chat-memory"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Store reads and writes relay state files.
type Store struct {
	dir string
	log *slog.Logger
}

// DefaultDir returns ${HOME}/.relay/store.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".relay", "store")
}

// New creates a Store rooted at dir. Empty dir means DefaultDir.
func New(dir string, opts ...Option) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	s := &Store{dir: dir, log: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// TelemetryPath returns the scheduler telemetry log location.
func (s *Store) TelemetryPath() string { return filepath.Join(s.dir, telemetryFile) }

// TodoDir returns the directory holding persisted todo runs.
func (s *Store) TodoDir() string { return filepath.Join(s.dir, todoDir) }

// ChatMemoryDir returns the directory holding per-chat markdown logs.
func (s *Store) ChatMemoryDir() string { return filepath.Join(s.dir, chatMemDir) }

// RouterConfig loads the router configuration, normalized. A missing or
// corrupt file yields defaults, and the corrupt file is rewritten.
func (s *Store) RouterConfig() router.Config {
	var cfg router.Config
	if !s.loadJSON(routerFile, &cfg) {
		cfg = router.Default()
		_ = s.SaveRouterConfig(cfg)
		return cfg
	}
	return router.Normalize(cfg)
}

// SaveRouterConfig persists the router configuration atomically.
func (s *Store) SaveRouterConfig(cfg router.Config) error {
	return s.writeJSON(routerFile, router.Normalize(cfg))
}

// SchedulerConfig loads the scheduler configuration, normalized.
func (s *Store) SchedulerConfig() sched.Config {
	var cfg sched.Config
	if !s.loadJSON(schedulerFile, &cfg) {
		cfg = sched.Default()
		_ = s.SaveSchedulerConfig(cfg)
		return cfg
	}
	return sched.Normalize(cfg)
}

// SaveSchedulerConfig persists the scheduler configuration atomically.
func (s *Store) SaveSchedulerConfig(cfg sched.Config) error {
	return s.writeJSON(schedulerFile, sched.Normalize(cfg))
}

// PolicyConfig loads the policy configuration, normalized. workspaceRoot
// seeds the default protected root when the file is absent.
func (s *Store) PolicyConfig(workspaceRoot string) policy.Config {
	var cfg policy.Config
	if !s.loadJSON(policyFile, &cfg) {
		cfg = policy.Default(workspaceRoot)
		_ = s.SavePolicyConfig(cfg)
		return cfg
	}
	if cfg.ProtectedWorkspaceRoot == "" {
		cfg.ProtectedWorkspaceRoot = workspaceRoot
	}
	return policy.Normalize(cfg)
}

// SavePolicyConfig persists the policy configuration atomically.
func (s *Store) SavePolicyConfig(cfg policy.Config) error {
	return s.writeJSON(policyFile, policy.Normalize(cfg))
}

// loadJSON reads one file into v. Returns false when the file is missing
// or unparseable; parse failures are logged since the caller will rewrite.
func (s *Store) loadJSON(name string, v any) bool {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("read store file", "file", name, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn("corrupt store file, rewriting defaults", "file", name, "err", err)
		return false
	}
	return true
}

// writeJSON writes v atomically via temp file + rename.
func (s *Store) writeJSON(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", s.dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("store: temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("store: rename %s: %w", name, err)
	}
	return nil
}
