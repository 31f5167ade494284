package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/storagetest"
)

func TestProjectionStoreConformance(t *testing.T) {
	storagetest.RunProjectionStoreTests(t, func(t *testing.T) storage.ProjectionStore {
		return New()
	})
}

func TestDocumentsAreCopied(t *testing.T) {
	store := New()
	ctx := context.Background()
	body := json.RawMessage(`{"latitude":1}`)
	if err := store.PutDocument(ctx, storage.Document{Model: "current-position", Key: "car-1", Body: body}); err != nil {
		t.Fatalf("put document: %v", err)
	}
	body[2] = 'X'

	got, err := store.GetDocument(ctx, "current-position", "car-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if string(got.Body) != `{"latitude":1}` {
		t.Fatalf("body = %s, want stored copy", got.Body)
	}
	got.Body[2] = 'Y'
	again, err := store.GetDocument(ctx, "current-position", "car-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if string(again.Body) != `{"latitude":1}` {
		t.Fatalf("body = %s after caller mutation", again.Body)
	}
}

func TestCanceledContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetCheckpoint(ctx, "current_position"); err == nil {
		t.Fatal("expected canceled context to fail")
	}
}
