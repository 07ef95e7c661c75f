package session

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const traceSeparator = "----"

// traceLog is the per-episode record of sent actions, closed by a result
// record once the episode ends.
type traceLog struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func openTrace(path string) (*traceLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open trace: %w", err)
	}
	return &traceLog{path: path, file: f}, nil
}

func (t *traceLog) write(lines ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return fmt.Errorf("session: trace %s closed", t.path)
	}
	if _, err := t.file.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		return fmt.Errorf("session: write trace: %w", err)
	}
	return nil
}

func (t *traceLog) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
