// Package state persists the chainer's registry, chain store, and
// execution history as one JSON document. Loading is tolerant of
// corruption: a missing file, unparsable content, or a document missing
// any of the three sections yields the all-empty state. Saving is atomic
// (temp file + rename) so a crash never leaves a half-written cache.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/handley-lab/chainer/pkg/schema"
)

// DefaultPath returns the default state file location:
// <user cache dir>/chainer/state.json, falling back to a working-directory
// cache when the platform cache dir is unavailable.
func DefaultPath() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = ".chainer"
		return filepath.Join(base, "state.json")
	}
	return filepath.Join(base, "chainer", "state.json")
}

// Store owns the in-memory state and its file. All access goes through
// View/Mutate so concurrent callers within one process are serialized;
// cross-process races on the file remain an accepted limitation.
type Store struct {
	path string
	mu   sync.Mutex
	st   schema.State
}

// Open creates a store backed by the given file, loading whatever valid
// state it holds. Open never fails: a corrupted cache must not block the
// tool, so any load problem degrades to the empty state.
func Open(path string) *Store {
	return &Store{path: path, st: load(path)}
}

// load reads the state document, requiring all three sections to be
// present. Any failure yields the all-empty state.
func load(path string) schema.State {
	empty := schema.NewState()

	data, err := os.ReadFile(path)
	if err != nil {
		return empty
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return empty
	}
	for _, key := range []string{"tools", "chains", "history"} {
		if _, ok := sections[key]; !ok {
			return empty
		}
	}

	var st schema.State
	if err := json.Unmarshal(data, &st); err != nil {
		return empty
	}
	if st.Tools == nil {
		st.Tools = make(map[string]schema.ToolBinding)
	}
	if st.Chains == nil {
		st.Chains = make(map[string]schema.Chain)
	}
	return st
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// View calls fn with a read-only view of the state under the lock.
// fn must not retain or mutate the state.
func (s *Store) View(fn func(st *schema.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

// Mutate applies fn to the state under the lock and persists the result.
// The mutation is kept in memory even if the save fails; the caller
// decides whether a save failure is loud (registration, chain definition)
// or absorbed (history written after a successful run).
func (s *Store) Mutate(fn func(st *schema.State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
	return s.save()
}

// Clear resets all three sections to empty and persists.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = schema.NewState()
	return s.save()
}

// save writes the document atomically. Caller must hold the lock.
func (s *Store) save() error {
	data, err := json.MarshalIndent(&s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
