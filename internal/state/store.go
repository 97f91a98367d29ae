// Package state persists per-book processing records between runs.
// The store is an in-memory map loaded once at startup and flushed to a
// JSON file with write-to-temp-then-rename discipline.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	seshaterrors "github.com/lepinkainen/seshat/internal/errors"
)

// CurrentVersion is the state file schema version this build writes.
const CurrentVersion = 1

// Status is the outcome of the last processing attempt for a book.
type Status string

const (
	// StatusSuccess marks a fully processed book.
	StatusSuccess Status = "success"
	// StatusFailed marks a book whose last attempt failed at some step.
	StatusFailed Status = "failed"
)

// Record is the persisted processing record of a single book.
// Last write wins; at most one record exists per book.
type Record struct {
	Status          Status     `json:"status"`
	Fingerprint     string     `json:"fingerprint"`
	LastProcessedAt time.Time  `json:"last_processed_at"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	Message         string     `json:"message,omitempty"`
	FailCount       int        `json:"fail_count,omitempty"`
}

type stateFile struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	LastRunID string            `json:"last_run_id,omitempty"`
	Books     map[string]Record `json:"books"`
}

// Store holds the processing records for one library. It is mutated only by
// the update engine's single goroutine; no locking is needed.
type Store struct {
	path  string
	books map[string]Record
	runID string
	dirty bool
}

// New creates a store backed by the given file path. Call Load before use.
func New(path string) *Store {
	return &Store{
		path:  path,
		books: make(map[string]Record),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// SetRunID records the run identifier stamped into the file on flush.
func (s *Store) SetRunID(id string) {
	s.runID = id
}

// Load reads the state file. A missing file yields an empty store; a file
// that exists but cannot be parsed aborts the run, since guessing at
// processing history would redo or skip work incorrectly.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return seshaterrors.NewFatalError("read state file", err)
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return seshaterrors.NewFatalErrorHint("parse state file",
			fmt.Sprintf("delete or repair %s to start fresh", s.path), err)
	}
	if file.Version > CurrentVersion {
		return seshaterrors.NewFatalErrorHint("parse state file",
			"state file was written by a newer version",
			fmt.Errorf("unsupported state version %d", file.Version))
	}

	if file.Books != nil {
		s.books = file.Books
	}
	return nil
}

// Get returns the record for a book, if one exists.
func (s *Store) Get(bookID int64) (Record, bool) {
	rec, ok := s.books[key(bookID)]
	return rec, ok
}

// Put stores a record for a book, replacing any existing one.
// The change is in-memory until the next Flush.
func (s *Store) Put(bookID int64, rec Record) {
	s.books[key(bookID)] = rec
	s.dirty = true
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return len(s.books)
}

// Flush atomically persists the store when it has unflushed changes.
func (s *Store) Flush() error {
	if !s.dirty {
		return nil
	}

	file := stateFile{
		Version:   CurrentVersion,
		UpdatedAt: time.Now().UTC(),
		LastRunID: s.runID,
		Books:     s.books,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	s.dirty = false
	return nil
}

func key(bookID int64) string {
	return strconv.FormatInt(bookID, 10)
}
