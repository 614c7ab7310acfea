package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Run outcomes
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Record describes the latest pipeline run
type Record struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Fetched     int      `json:"fetched"`
	Rejected    int      `json:"rejected"`
	Accepted    int      `json:"accepted"`
	Inserted    int      `json:"inserted"`
	Skipped     []string `json:"skipped_accounts,omitempty"`
	MediaStored int      `json:"media_stored"`
	MediaFailed int      `json:"media_failed"`
	Reported    int      `json:"reported"`
	ReportPath  string   `json:"report_path,omitempty"`
	DocumentURL string   `json:"document_url,omitempty"`
	Summarized  int      `json:"summarized"`
	Error       string   `json:"error,omitempty"`
	Version     int      `json:"version"`
}

// Duration is the wall time of a finished run
func (r *Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Manager keeps the run record next to the database
type Manager struct {
	path string
}

// NewManager creates a manager for the record stored at path
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// PathFor returns the record location for a database file
func PathFor(databasePath string) string {
	return databasePath + ".lastrun.json"
}

// Path returns the record location
func (m *Manager) Path() string {
	return m.path
}

// Load returns the stored record, or nil when no run was recorded yet
func (m *Manager) Load() (*Record, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode run record: %w", err)
	}
	return &rec, nil
}

// Save writes the record atomically
func (m *Manager) Save(rec *Record) error {
	if rec.Version == 0 {
		rec.Version = 1
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	return WriteFileAtomic(m.path, data, 0644)
}

// Delete removes the record
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete run record: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path. Readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
