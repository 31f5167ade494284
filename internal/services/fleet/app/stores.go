package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/motorpool/internal/platform/timeouts"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/memory"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/mongo"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/postgres"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/sqlite"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// StorageConfig selects and locates the event and projection stores.
type StorageConfig struct {
	EventsBackend string
	EventsDBPath  string
	PostgresDSN   string

	ProjectionsBackend string
	ProjectionsDBPath  string
	MongoURI           string
	MongoDatabase      string
}

// Stores is the storage bundle a process owns and closes.
type Stores struct {
	Events      storage.EventStore
	Projections storage.ProjectionStore

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// OpenStores opens the configured backends. On failure every store opened so
// far is closed.
func OpenStores(ctx context.Context, cfg StorageConfig) (*Stores, error) {
	stores := &Stores{}
	events, err := stores.openEvents(ctx, cfg)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	stores.Events = events

	projections, err := stores.openProjections(ctx, cfg)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	stores.Projections = projections
	return stores, nil
}

func (s *Stores) openEvents(ctx context.Context, cfg StorageConfig) (storage.EventStore, error) {
	switch backend := strings.TrimSpace(cfg.EventsBackend); backend {
	case BackendSQLite, "":
		if err := ensureDir(cfg.EventsDBPath); err != nil {
			return nil, err
		}
		store, err := sqlite.OpenEvents(cfg.EventsDBPath)
		if err != nil {
			return nil, fmt.Errorf("open events sqlite store: %w", err)
		}
		s.track("events sqlite store", store.Close)
		return store, nil
	case BackendPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, timeouts.StoreConnect)
		defer cancel()
		store, err := postgres.Open(connectCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open events postgres store: %w", err)
		}
		s.track("events postgres store", store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", backend)
	}
}

func (s *Stores) openProjections(ctx context.Context, cfg StorageConfig) (storage.ProjectionStore, error) {
	switch backend := strings.TrimSpace(cfg.ProjectionsBackend); backend {
	case BackendSQLite, "":
		if err := ensureDir(cfg.ProjectionsDBPath); err != nil {
			return nil, err
		}
		store, err := sqlite.OpenProjections(cfg.ProjectionsDBPath)
		if err != nil {
			return nil, fmt.Errorf("open projections sqlite store: %w", err)
		}
		s.track("projections sqlite store", store.Close)
		return store, nil
	case BackendMongo:
		store, err := mongo.Open(ctx, mongo.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
			Timeout:  timeouts.StoreConnect,
		})
		if err != nil {
			return nil, fmt.Errorf("open projections mongo store: %w", err)
		}
		s.track("projections mongo store", store.Close)
		return store, nil
	case BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported projections backend %q", backend)
	}
}

func (s *Stores) track(name string, close func() error) {
	s.closers = append(s.closers, namedCloser{name: name, close: close})
}

// Close closes every store in reverse open order. Failures are logged and
// joined.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		closer := s.closers[i]
		if err := closer.close(); err != nil {
			log.Printf("close %s: %v", closer.name, err)
			errs = append(errs, fmt.Errorf("close %s: %w", closer.name, err))
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func ensureDir(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	return nil
}
