// Package artifact manages the per-job plaintext capture files.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

type Store struct {
	Dir string
}

func New(dir string) Store { return Store{Dir: dir} }

// Path is the capture file for a job's plugin output.
func (s Store) Path(jobID uint64) string {
	return filepath.Join(s.Dir, fmt.Sprintf("job_%d.txt", jobID))
}

// ErrorPath is written instead of plugin output when the run never started.
func (s Store) ErrorPath(jobID uint64) string {
	return filepath.Join(s.Dir, fmt.Sprintf("job_%d_error.txt", jobID))
}

// Create truncates and opens the capture file for jobID.
func (s Store) Create(jobID uint64) (*os.File, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return os.Create(s.Path(jobID))
}

func (s Store) WriteError(jobID uint64, msg string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	return os.WriteFile(s.ErrorPath(jobID), []byte(msg), 0o644)
}

func (s Store) Read(jobID uint64) (string, error) {
	b, err := os.ReadFile(s.Path(jobID))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Open returns the capture for jobID, falling back to its error file. The
// second return names which one was opened.
func (s Store) Open(jobID uint64) (*os.File, string, error) {
	f, err := os.Open(s.Path(jobID))
	if err == nil {
		return f, s.Path(jobID), nil
	}
	if ef, eerr := os.Open(s.ErrorPath(jobID)); eerr == nil {
		return ef, s.ErrorPath(jobID), nil
	}
	return nil, "", err
}
