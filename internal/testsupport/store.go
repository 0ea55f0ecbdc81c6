package testsupport

import (
	"testing"

	"rvcworker/internal/config"
	"rvcworker/internal/history"
	"rvcworker/internal/registry"
)

// MustOpenHistory opens a history.Store for tests and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg.Paths.HistoryPath)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustNewRegistry returns the model registry configured for cfg.
func MustNewRegistry(t testing.TB, cfg *config.Config) *registry.Registry {
	t.Helper()

	reg, err := registry.New(cfg.Paths.RegistryPath)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}
