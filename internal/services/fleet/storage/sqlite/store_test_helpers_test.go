package sqlite

import (
	"path/filepath"
	"testing"
)

func openTestEventsStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.sqlite")
	store, err := OpenEvents(path)
	if err != nil {
		t.Fatalf("open events store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close events store: %v", err)
		}
	})
	return store
}

func openTestProjectionsStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projections.sqlite")
	store, err := OpenProjections(path)
	if err != nil {
		t.Fatalf("open projections store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close projections store: %v", err)
		}
	})
	return store
}
