package projection

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/sqlite"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var testOptions = Options{
	BatchSize:     2,
	PollInterval:  5 * time.Millisecond,
	RetryBackoff:  time.Millisecond,
	RetryMaxDelay: 5 * time.Millisecond,
	ApplyTimeout:  5 * time.Second,
}

func openTestEvents(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.OpenEvents(filepath.Join(t.TempDir(), "events.sqlite"))
	if err != nil {
		t.Fatalf("open events store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func appendTo(t *testing.T, events storage.EventStore, streamID string, payloads ...event.Payload) {
	t.Helper()
	expected := storage.AnyVersion
	if _, err := events.ReadStream(context.Background(), streamID); err != nil {
		expected = storage.NoStream
	}
	if _, err := events.AppendEvents(context.Background(), streamID, expected, payloads); err != nil {
		t.Fatalf("append to %s: %v", streamID, err)
	}
}

func newTestRunner(t *testing.T, h Handler, feed storage.FeedReader, store storage.ProjectionStore, health HealthSetter) *Runner {
	t.Helper()
	runner, err := NewRunner(h, feed, store, testOptions, health)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func decodeDoc[T any](t *testing.T, store storage.DocumentStore, model, key string) T {
	t.Helper()
	doc, err := store.GetDocument(context.Background(), model, key)
	if err != nil {
		t.Fatalf("get %s/%s: %v", model, key, err)
	}
	var value T
	if err := json.Unmarshal(doc.Body, &value); err != nil {
		t.Fatalf("decode %s/%s: %v", model, key, err)
	}
	return value
}

func checkpointOf(t *testing.T, store storage.ProjectionStore, name string) uint64 {
	t.Helper()
	checkpoint, err := store.GetCheckpoint(context.Background(), name)
	if err != nil {
		t.Fatalf("get checkpoint %s: %v", name, err)
	}
	return checkpoint.LastSeq
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func evt(streamID string, globalSeq uint64, payload event.Payload) event.Event {
	return event.Event{
		ID:         "evt",
		StreamID:   streamID,
		GlobalSeq:  globalSeq,
		Type:       payload.EventType(),
		Payload:    payload,
		RecordedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// recordingHealth captures serving status changes.
type recordingHealth struct {
	mu      sync.Mutex
	history map[string][]healthpb.HealthCheckResponse_ServingStatus
}

func newRecordingHealth() *recordingHealth {
	return &recordingHealth{history: make(map[string][]healthpb.HealthCheckResponse_ServingStatus)}
}

func (h *recordingHealth) SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history[service] = append(h.history[service], status)
}

func (h *recordingHealth) saw(service string, status healthpb.HealthCheckResponse_ServingStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, got := range h.history[service] {
		if got == status {
			return true
		}
	}
	return false
}

func (h *recordingHealth) last(service string) healthpb.HealthCheckResponse_ServingStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	history := h.history[service]
	if len(history) == 0 {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return history[len(history)-1]
}

// flakyHandler fails maintenance upserts while failures remain.
type flakyHandler struct {
	MaintenanceProjection
	mu       sync.Mutex
	failures int
	err      error
}

func (h *flakyHandler) MaintenanceItemUpserted(ctx context.Context, docs storage.DocumentStore, e event.Event, p event.MaintenanceItemUpserted) error {
	h.mu.Lock()
	if h.failures != 0 {
		if h.failures > 0 {
			h.failures--
		}
		h.mu.Unlock()
		return h.err
	}
	h.mu.Unlock()
	return h.MaintenanceProjection.MaintenanceItemUpserted(ctx, docs, e, p)
}

// flakyFeed fails reads with a transient error while failures remain.
type flakyFeed struct {
	storage.FeedReader
	mu       sync.Mutex
	failures int
}

func (f *flakyFeed) ReadGlobalFeed(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, storage.Transient("feed unavailable", context.DeadlineExceeded)
	}
	f.mu.Unlock()
	return f.FeedReader.ReadGlobalFeed(ctx, afterSeq, limit)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
