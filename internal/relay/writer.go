package relay

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer publishes moves to the relay file. Each write replaces the whole
// file through a rename so the watcher never sees a partial line.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates a writer for path
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write replaces the relay file with cmd
func (w *Writer) Write(cmd MoveCommand) error {
	return w.WriteLine(Format(cmd))
}

// WriteLine replaces the relay file with a raw line
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".relay-*")
	if err != nil {
		return fmt.Errorf("failed to create relay temp file: %w", err)
	}

	if _, err := tmp.WriteString(line + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write relay line: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close relay temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), w.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace relay file: %w", err)
	}
	return nil
}

// Path returns the relay file path
func (w *Writer) Path() string {
	return w.path
}
