// Package flags persists the small process-local markers that survive a
// reload: the last schema repair, a foreign-key failure left by the
// previous session, and an in-flight recovery attempt.
package flags

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/ledgerkeep/internal/atomicfile"
)

// FileName is the flag file inside the data directory.
const FileName = "flags.yaml"

// Persisted keys, as they appear in the flag file.
const (
	KeyLastSchemaRepair     = "last_schema_repair"
	KeyFKFailureLastSession = "fk_failure_last_session"
	KeyRecoveryAttempt      = "recovery_attempt"
	KeyRecoveryReason       = "recovery_reason"
)

// State is the full content of the flag file.
type State struct {
	LastSchemaRepair     *time.Time `yaml:"last_schema_repair,omitempty"`
	FKFailureLastSession bool       `yaml:"fk_failure_last_session,omitempty"`
	RecoveryAttempt      *time.Time `yaml:"recovery_attempt,omitempty"`
	RecoveryReason       string     `yaml:"recovery_reason,omitempty"`
}

// Store reads and writes the flag file. Every mutation rewrites the file
// atomically.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore returns a store keeping its file in dir on fs.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, path: filepath.Join(dir, FileName)}
}

// NewMemoryStore returns a store backed by an in-memory filesystem.
func NewMemoryStore() *Store {
	return NewStore(afero.NewMemMapFs(), "/")
}

// Path returns the flag file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the current state. A missing file is the zero state.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (State, error) {
	var st State
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return st, nil
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return st, nil
}

func (s *Store) update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	fn(&st)
	data, err := yaml.Marshal(&st)
	if err != nil {
		return fmt.Errorf("encoding flags: %w", err)
	}
	return atomicfile.WriteBytes(s.fs, s.path, data)
}

// MarkSchemaRepair records when the schema was last rebuilt.
func (s *Store) MarkSchemaRepair(at time.Time) error {
	at = at.UTC()
	return s.update(func(st *State) { st.LastSchemaRepair = &at })
}

// LastSchemaRepair returns the last rebuild time, if any.
func (s *Store) LastSchemaRepair() (time.Time, bool, error) {
	st, err := s.Load()
	if err != nil || st.LastSchemaRepair == nil {
		return time.Time{}, false, err
	}
	return *st.LastSchemaRepair, true, nil
}

// SetFKFailure sets or clears the marker read at next boot.
func (s *Store) SetFKFailure(on bool) error {
	return s.update(func(st *State) { st.FKFailureLastSession = on })
}

// FKFailureLastSession reports whether the previous session ended in a
// foreign-key failure.
func (s *Store) FKFailureLastSession() (bool, error) {
	st, err := s.Load()
	return st.FKFailureLastSession, err
}

// MarkRecoveryAttempt records an escalated recovery and its reason.
func (s *Store) MarkRecoveryAttempt(at time.Time, reason string) error {
	at = at.UTC()
	return s.update(func(st *State) {
		st.RecoveryAttempt = &at
		st.RecoveryReason = reason
	})
}

// RecoveryAttempt returns the recorded recovery attempt, if any.
func (s *Store) RecoveryAttempt() (at time.Time, reason string, ok bool, err error) {
	st, err := s.Load()
	if err != nil || st.RecoveryAttempt == nil {
		return time.Time{}, "", false, err
	}
	return *st.RecoveryAttempt, st.RecoveryReason, true, nil
}

// ClearRecoveryAttempt removes the recovery attempt marker.
func (s *Store) ClearRecoveryAttempt() error {
	return s.update(func(st *State) {
		st.RecoveryAttempt = nil
		st.RecoveryReason = ""
	})
}
