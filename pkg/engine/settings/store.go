package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/sys/atomicwriter"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/logging"
)

// Store is a single-file read-through cache of Settings. All methods are
// safe for concurrent use; readers always see a consistent snapshot.
type Store struct {
	log  logging.Logger
	path string

	mu      sync.Mutex
	current Settings
	loaded  bool
}

// NewStore creates a store persisting to path. Nothing is read until the
// first Load or Current call.
func NewStore(log logging.Logger, path string) *Store {
	return &Store{log: log, path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted snapshot, reading the file on first use.
// A missing file yields empty defaults. An unreadable or malformed file
// also yields empty defaults, with the error returned so the caller can
// decide whether to proceed.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.current.Clone(), nil
	}

	s.current = Empty()
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.current.Clone(), nil
	}
	if err != nil {
		return s.current.Clone(), fmt.Errorf("reading settings: %w", err)
	}
	var parsed Settings
	if err := json.Unmarshal(data, &parsed); err != nil {
		return s.current.Clone(), fmt.Errorf("parsing settings %s: %w", s.path, err)
	}
	if parsed.SelectedRunners == nil {
		parsed.SelectedRunners = make(map[engine.Capability]string)
	}
	if parsed.RunnerParameters == nil {
		parsed.RunnerParameters = make(map[string]map[string]interface{})
	}
	s.current = parsed
	return s.current.Clone(), nil
}

// Current returns the in-memory snapshot, loading from disk on first use.
// Read errors are logged and degrade to empty defaults.
func (s *Store) Current() Settings {
	snapshot, err := s.Load()
	if err != nil {
		s.log.WithError(err).Warn("using default settings")
	}
	return snapshot
}

// Save persists snapshot atomically (write-temp-then-rename) and replaces
// the in-memory snapshot on success. A failed write leaves the in-memory
// snapshot untouched and is recoverable: the caller may simply retry.
func (s *Store) Save(snapshot Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating settings directory: %w", err)
		}
	}
	// Settings may carry sensitive runner parameters, keep them private.
	if err := atomicwriter.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	s.current = snapshot.Clone()
	s.loaded = true
	return nil
}
