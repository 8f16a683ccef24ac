package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

// RunState is a saved run.
type RunState struct {
	ID         string                    `json:"id"`
	Engine     migration.EngineKind      `json:"engine"`
	Method     migration.RedisMethod     `json:"method,omitempty"`
	Target     string                    `json:"target"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	ExitCode   int                       `json:"exit_code"`
	Aborted    bool                      `json:"aborted,omitempty"`
	Counts     map[migration.State]int   `json:"counts"`
	Records    []migration.RecordSummary `json:"records,omitempty"`
}

// Report rebuilds the report the state was saved from.
func (r *RunState) Report() *migration.Report {
	return &migration.Report{
		RunID:      r.ID,
		Engine:     r.Engine,
		Method:     r.Method,
		Target:     r.Target,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Aborted:    r.Aborted,
		Records:    r.Records,
	}
}

// StateStore manages persistent storage of run reports.
type StateStore struct {
	mu       sync.RWMutex
	filePath string
	runs     map[string]*RunState
}

// NewStateStore creates a new state store backed by path.
func NewStateStore(path string) (*StateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}

	store := &StateStore{
		filePath: path,
		runs:     make(map[string]*RunState),
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}

	return store, nil
}

// Save persists a run report.
func (s *StateStore) Save(report *migration.Report) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &RunState{
		ID:         report.RunID,
		Engine:     report.Engine,
		Method:     report.Method,
		Target:     report.Target,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		ExitCode:   report.ExitCode(),
		Aborted:    report.Aborted,
		Counts:     report.Counts(),
		Records:    report.Records,
	}

	prev, existed := s.runs[state.ID]
	s.runs[state.ID] = state

	if err := s.persist(); err != nil {
		if existed {
			s.runs[state.ID] = prev
		} else {
			delete(s.runs, state.ID)
		}
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	return state, nil
}

// Get retrieves a run by ID or by an unambiguous ID prefix.
func (s *StateStore) Get(id string) (*RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.runs[id]; ok {
		return state, nil
	}

	var match *RunState
	for key, state := range s.runs {
		if id == "" || !strings.HasPrefix(key, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run id prefix is ambiguous: %s", id)
		}
		match = state
	}
	if match == nil {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return match, nil
}

// List returns all saved runs, newest first, without their records.
func (s *StateStore) List() []*RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*RunState, 0, len(s.runs))
	for _, state := range s.runs {
		summary := *state
		summary.Records = nil
		list = append(list, &summary)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})

	return list
}

// Latest returns the most recently started run.
func (s *StateStore) Latest() (*RunState, error) {
	list := s.List()
	if len(list) == 0 {
		return nil, fmt.Errorf("no runs recorded in %s", s.filePath)
	}
	return s.Get(list[0].ID)
}

// Delete removes a run by ID.
func (s *StateStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("run not found: %s", id)
	}

	delete(s.runs, id)

	if err := s.persist(); err != nil {
		return fmt.Errorf("failed to persist after delete: %w", err)
	}

	return nil
}

// Prune keeps the newest keep runs and returns how many were removed.
func (s *StateStore) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	list := s.List()
	if len(list) <= keep {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range list[keep:] {
		delete(s.runs, state.ID)
	}
	if err := s.persist(); err != nil {
		return 0, fmt.Errorf("failed to persist after prune: %w", err)
	}
	return len(list) - keep, nil
}

// load reads runs from disk.
func (s *StateStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var runs map[string]*RunState
	if err := json.Unmarshal(data, &runs); err != nil {
		return fmt.Errorf("failed to unmarshal runs: %w", err)
	}
	if runs != nil {
		s.runs = runs
	}
	return nil
}

// persist writes runs to disk.
func (s *StateStore) persist() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(s.runs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal runs: %w", err)
	}

	// Write atomically via temp file
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// FilePath returns the storage file path.
func (s *StateStore) FilePath() string {
	return s.filePath
}
