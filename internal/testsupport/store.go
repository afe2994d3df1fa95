package testsupport

import (
	"testing"

	"cleanupd/internal/config"
	"cleanupd/internal/index"
)

// MustOpenStore opens an index.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *index.Store {
	t.Helper()

	store, err := index.Open(cfg)
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
