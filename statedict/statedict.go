// Package statedict maps the opaque state signatures printed by a guided target
// to small stable integers. The mapping is append-only and shared by every
// environment that points at the same Store.
package statedict

import (
	"fmt"
	"log/slog"
	"sync"
)

// StateDict resolves signatures to ids, assigning new ids in first-seen order
// starting at base.
type StateDict struct {
	store  Store
	base   int
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]int
}

func New(store Store, base int, logger *slog.Logger) *StateDict {
	if logger == nil {
		logger = slog.Default()
	}
	d := &StateDict{
		store:  store,
		base:   base,
		logger: logger,
		cache:  make(map[string]int),
	}
	if entries, err := store.Load(); err == nil {
		d.cache = entries
	} else {
		logger.Warn("state ledger load failed, starting empty", "error", err)
	}
	return d
}

// Resolve returns the id of signature. On a cache miss the store is reloaded
// first, so that an id assigned meanwhile by another environment is reused
// instead of minting a duplicate.
func (d *StateDict) Resolve(signature string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.cache[signature]; ok {
		return id, nil
	}

	var (
		id    int
		isNew bool
		fresh map[string]int
	)
	err := d.store.Update(func(entries map[string]int) bool {
		fresh = entries
		if existing, ok := entries[signature]; ok {
			id = existing
			return false
		}
		id = len(entries) + d.base
		entries[signature] = id
		isNew = true
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("statedict: resolve %q: %w", signature, err)
	}
	d.cache = fresh
	if isNew {
		d.logger.Info("new state", "state_id", id, "signature", signature)
	}
	return id, nil
}

// Len returns the number of known signatures.
func (d *StateDict) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// Entries returns a copy of the cached mapping.
func (d *StateDict) Entries() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyEntries(d.cache)
}

// Base is the id handed to the first signature of an empty ledger.
func (d *StateDict) Base() int {
	return d.base
}
