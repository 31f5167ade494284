package projection

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// Status combines a runner's in-memory phase with its stored checkpoint.
type Status struct {
	Projection string `json:"projection"`
	State      State  `json:"state"`
	Checkpoint uint64 `json:"checkpoint"`
	LatestSeq  uint64 `json:"latest_seq"`
	Lag        uint64 `json:"lag"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	FaultedSeq uint64 `json:"faulted_seq,omitempty"`
}

// Manager owns one runner per projection.
type Manager struct {
	feed    storage.FeedReader
	store   storage.ProjectionStore
	runners []*Runner
}

// NewManager builds runners for handlers over a shared feed and store.
func NewManager(feed storage.FeedReader, store storage.ProjectionStore, handlers []Handler, opts Options, health HealthSetter) (*Manager, error) {
	m := &Manager{feed: feed, store: store}
	seen := make(map[string]bool, len(handlers))
	for _, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("projection handler is required")
		}
		if seen[h.Name()] {
			return nil, fmt.Errorf("duplicate projection %s", h.Name())
		}
		seen[h.Name()] = true
		runner, err := NewRunner(h, feed, store, opts, health)
		if err != nil {
			return nil, err
		}
		m.runners = append(m.runners, runner)
	}
	return m, nil
}

// Run runs every runner in its own goroutine until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, runner := range m.runners {
		wg.Add(1)
		go func(runner *Runner) {
			defer wg.Done()
			_ = runner.Run(ctx)
		}(runner)
	}
	wg.Wait()
}

// Runner returns the runner of a projection.
func (m *Manager) Runner(name string) (*Runner, error) {
	for _, runner := range m.runners {
		if runner.Name() == name {
			return runner, nil
		}
	}
	return nil, apperrors.WithMetadata(apperrors.CodeUnknownProjection, "unknown projection "+name, map[string]string{"Projection": name})
}

// Names lists the managed projections.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.runners))
	for _, runner := range m.runners {
		names = append(names, runner.Name())
	}
	return names
}

// Statuses reports every projection's phase, checkpoint and lag.
func (m *Manager) Statuses(ctx context.Context) ([]Status, error) {
	latest, err := m.feed.LatestGlobalSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest global seq: %w", err)
	}
	statuses := make([]Status, 0, len(m.runners))
	for _, runner := range m.runners {
		checkpoint, err := m.store.GetCheckpoint(ctx, runner.Name())
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", runner.Name(), err)
		}
		snapshot := runner.Snapshot()
		statuses = append(statuses, Status{
			Projection: snapshot.Projection,
			State:      snapshot.State,
			Checkpoint: checkpoint.LastSeq,
			LatestSeq:  latest,
			Lag:        Lag(latest, checkpoint.LastSeq),
			Attempts:   snapshot.Attempts,
			LastError:  snapshot.LastError,
			FaultedSeq: snapshot.FaultedSeq,
		})
	}
	return statuses, nil
}

// Rebuild resets one projection so it replays the feed from the start.
func (m *Manager) Rebuild(ctx context.Context, name string) error {
	runner, err := m.Runner(name)
	if err != nil {
		return err
	}
	return runner.Rebuild(ctx)
}

// CatchUp drains the feed into every projection, one after another.
func (m *Manager) CatchUp(ctx context.Context) error {
	for _, runner := range m.runners {
		if _, err := runner.CatchUp(ctx); err != nil {
			return fmt.Errorf("catch up %s: %w", runner.Name(), err)
		}
	}
	return nil
}

// Lag is how many global sequences a checkpoint trails latest by.
func Lag(latest, checkpoint uint64) uint64 {
	if checkpoint >= latest {
		return 0
	}
	return latest - checkpoint
}
