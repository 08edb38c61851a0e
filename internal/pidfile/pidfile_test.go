package pidfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "daemon.pid")
	pf := New(path)

	if pf.Exists() {
		t.Error("pidfile should not exist before write")
	}

	if err := pf.WriteFor(12345); err != nil {
		t.Fatalf("Failed to write pidfile: %v", err)
	}

	if !pf.Exists() {
		t.Error("pidfile should exist after write")
	}

	pid, err := pf.Read()
	if err != nil {
		t.Fatalf("Failed to read pidfile: %v", err)
	}
	if pid != 12345 {
		t.Errorf("Expected PID 12345, got %d", pid)
	}

	if err := pf.Remove(); err != nil {
		t.Fatalf("Failed to remove pidfile: %v", err)
	}
	if pf.Exists() {
		t.Error("pidfile should not exist after remove")
	}

	// Removing again is a no-op
	if err := pf.Remove(); err != nil {
		t.Errorf("Second remove should not error, got: %v", err)
	}
}

func TestReadInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	pf := New(path)
	if _, err := pf.Read(); err == nil {
		t.Error("Expected error reading invalid pidfile content")
	}
}

func TestReadMissingFile(t *testing.T) {
	pf := New(filepath.Join(t.TempDir(), "missing.pid"))
	if _, err := pf.Read(); err == nil {
		t.Error("Expected error reading missing pidfile")
	}
}
