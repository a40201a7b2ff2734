package engine

import (
	"fmt"
	"log"

	"github.com/gcbaptista/go-track-reconciler/config"
	"github.com/gcbaptista/go-track-reconciler/store"
)

// snapshotter is implemented by stores that persist by writing snapshots.
type snapshotter interface {
	Snapshot() error
}

// Open opens the configured store and creates an engine over it.
func Open(settings *config.Settings) (*Engine, error) {
	if settings == nil {
		settings = config.Default()
	}
	st, err := OpenStore(settings.Storage)
	if err != nil {
		return nil, err
	}
	eng, err := NewEngine(settings, st)
	if err != nil {
		if closeErr := st.Close(); closeErr != nil {
			log.Printf("Warning: failed to close store after engine setup failed: %v", closeErr)
		}
		return nil, err
	}
	return eng, nil
}

// OpenStore opens the storage backend selected by settings.
func OpenStore(settings config.StorageSettings) (store.Store, error) {
	switch settings.Backend {
	case "", config.BackendMemory:
		if settings.Path == "" {
			log.Printf("Info: Using in-memory store without persistence")
			return store.NewMemoryStore(), nil
		}
		return store.OpenMemoryStore(settings.Path)
	case config.BackendSQLite:
		if settings.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a storage path")
		}
		log.Printf("Info: Opening SQLite store at %s", settings.Path)
		return store.OpenSQLiteStore(settings.Path)
	}
	return nil, fmt.Errorf("unknown storage backend '%s'", settings.Backend)
}

// persist writes a snapshot for stores that need one. Failures are logged;
// the in-memory state stays authoritative until the next snapshot succeeds.
func (e *Engine) persist() {
	s, ok := e.store.(snapshotter)
	if !ok {
		return
	}
	if err := s.Snapshot(); err != nil {
		log.Printf("CRITICAL: failed to persist store snapshot: %v", err)
	}
}
