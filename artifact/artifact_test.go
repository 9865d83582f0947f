package artifact

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndRead(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "logs"))
	f, err := s.Create(12)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.WriteString("S4 Iteration 1\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	if filepath.Base(s.Path(12)) != "job_12.txt" {
		t.Fatalf("unexpected path %s", s.Path(12))
	}
	got, err := s.Read(12)
	if err != nil || got != "S4 Iteration 1\n" {
		t.Fatalf("read: %q %v", got, err)
	}
}

func TestWriteErrorAndMissingCapture(t *testing.T) {
	s := New(t.TempDir())
	if err := s.WriteError(3, "Error: Test script x not found"); err != nil {
		t.Fatalf("write error: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(s.Dir, "job_3_error.txt"))
	if err != nil || len(b) == 0 {
		t.Fatalf("error artifact missing: %v", err)
	}
	if _, err := s.Read(3); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist for capture, got %v", err)
	}
}

func TestOpenFallsBackToErrorFile(t *testing.T) {
	s := New(t.TempDir())
	if _, _, err := s.Open(5); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
	if err := s.WriteError(5, "Test script not found"); err != nil {
		t.Fatal(err)
	}
	f, path, err := s.Open(5)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Close()
	if path != s.ErrorPath(5) {
		t.Fatalf("opened %s", path)
	}

	c, _ := s.Create(5)
	c.Close()
	f, path, err = s.Open(5)
	if err != nil || path != s.Path(5) {
		t.Fatalf("capture should win: %s %v", path, err)
	}
	f.Close()
}
