package statedict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeu5/fuzz-gym/util"
)

// Store is the durable side of a StateDict. Entries map a signature to its id
// and are never changed once written.
type Store interface {
	// Load returns the persisted entries. A missing or unreadable ledger is
	// reported as an empty map, not as an error.
	Load() (map[string]int, error)
	// Update reloads the persisted entries, hands them to fn and persists the
	// map again if fn returns true. The reload and the write form one transaction
	// with respect to other writers of the same store.
	Update(fn func(entries map[string]int) bool) error
}

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]int
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]int)}
}

func (m *MemoryStore) Load() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyEntries(m.entries), nil
}

func (m *MemoryStore) Update(fn func(map[string]int) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := copyEntries(m.entries)
	if fn(entries) {
		m.entries = entries
	}
	return nil
}

// FileStore persists the ledger as one JSON object in a file, rewritten in full
// on every insert.
type FileStore struct {
	Path   string
	logger *slog.Logger
}

var _ Store = &FileStore{}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{Path: path, logger: logger}
}

func (f *FileStore) Load() (map[string]int, error) {
	return f.read(), nil
}

func (f *FileStore) read() map[string]int {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Warn("state ledger unreadable, starting empty", "path", f.Path, "error", err)
		}
		return make(map[string]int)
	}
	entries := make(map[string]int)
	if len(bytes.TrimSpace(raw)) == 0 {
		return entries
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		f.logger.Warn("state ledger corrupt, starting empty", "path", f.Path, "error", err)
		return make(map[string]int)
	}
	return entries
}

func (f *FileStore) Update(fn func(map[string]int) bool) error {
	if dir := filepath.Dir(f.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("statedict: create ledger folder: %w", err)
		}
	}
	return util.WithFileLock(f.Path, func() error {
		entries := f.read()
		if !fn(entries) {
			return nil
		}
		bs, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("statedict: encode ledger: %w", err)
		}
		if err := util.WriteFileAtomic(f.Path, bs, 0o644); err != nil {
			return fmt.Errorf("statedict: write ledger: %w", err)
		}
		return nil
	})
}

func copyEntries(entries map[string]int) map[string]int {
	out := make(map[string]int, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}
