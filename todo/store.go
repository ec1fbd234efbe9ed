package todo

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Store persists runs as one JSON file per run id, written atomically.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir (e.g. ~/.relay/store/todo-runs).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// PathFor returns the on-disk path for a run id.
func (s *Store) PathFor(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save writes the whole run record, replacing any previous version via
// temp-file + rename.
func (s *Store) Save(run *Run) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+run.RunID+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.PathFor(run.RunID))
}

// Load reads a run by id.
func (s *Store) Load(runID string) (*Run, error) {
	raw, err := os.ReadFile(s.PathFor(runID))
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
