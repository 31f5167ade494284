package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenStoresSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := StorageConfig{
		EventsBackend:      BackendSQLite,
		EventsDBPath:       filepath.Join(dir, "nested", "events.db"),
		ProjectionsBackend: BackendSQLite,
		ProjectionsDBPath:  filepath.Join(dir, "nested", "projections.db"),
	}
	stores, err := OpenStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	if stores.Events == nil || stores.Projections == nil {
		t.Fatal("expected both stores")
	}
	if err := stores.Close(); err != nil {
		t.Fatalf("close stores: %v", err)
	}
	if err := stores.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := os.Stat(cfg.EventsDBPath); err != nil {
		t.Fatalf("stat events db: %v", err)
	}
}

func TestOpenStoresMemoryProjections(t *testing.T) {
	stores, err := OpenStores(context.Background(), StorageConfig{
		EventsDBPath:       filepath.Join(t.TempDir(), "events.db"),
		ProjectionsBackend: BackendMemory,
	})
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })
	if _, err := stores.Projections.GetCheckpoint(context.Background(), "current_position"); err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
}

func TestOpenStoresRejectsConfig(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  StorageConfig
	}{
		{name: "unknown events backend", cfg: StorageConfig{EventsBackend: "cassandra"}},
		{name: "missing events path", cfg: StorageConfig{EventsBackend: BackendSQLite}},
		{name: "postgres without dsn", cfg: StorageConfig{EventsBackend: BackendPostgres}},
		{
			name: "unknown projections backend",
			cfg: StorageConfig{
				EventsDBPath:       filepath.Join(dir, "events.db"),
				ProjectionsBackend: "redis",
			},
		},
		{
			name: "mongo without uri",
			cfg: StorageConfig{
				EventsDBPath:       filepath.Join(dir, "events-mongo.db"),
				ProjectionsBackend: BackendMongo,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if stores, err := OpenStores(context.Background(), tt.cfg); err == nil {
				_ = stores.Close()
				t.Fatal("expected error")
			}
		})
	}
}
