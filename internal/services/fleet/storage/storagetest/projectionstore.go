package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// RunProjectionStoreTests exercises a ProjectionStore. open must return an
// empty store.
func RunProjectionStoreTests(t *testing.T, open func(t *testing.T) storage.ProjectionStore) {
	t.Helper()

	t.Run("documents", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		if _, err := store.GetDocument(ctx, "current-position", "car-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("get missing document error = %v, want ErrNotFound", err)
		}

		putDocument(t, store, doc("current-position", "car-1", `{"latitude":1}`, 3))
		putDocument(t, store, doc("current-position", "car-1", `{"latitude":2}`, 4))
		putDocument(t, store, doc("maintenance-plan", "car-1", `{"items":[]}`, 5))

		got, err := store.GetDocument(ctx, "current-position", "car-1")
		if err != nil {
			t.Fatalf("get document: %v", err)
		}
		assertJSON(t, got.Body, `{"latitude":2}`)
		if got.LastSeq != 4 || got.Model != "current-position" || got.Key != "car-1" {
			t.Fatalf("document = %+v, want replaced document at seq 4", got)
		}
		if got.UpdatedAt.IsZero() {
			t.Fatal("expected UpdatedAt to be set")
		}

		if err := store.DeleteDocument(ctx, "current-position", "car-1"); err != nil {
			t.Fatalf("delete document: %v", err)
		}
		if err := store.DeleteDocument(ctx, "current-position", "car-1"); err != nil {
			t.Fatalf("delete missing document: %v", err)
		}
		if _, err := store.GetDocument(ctx, "current-position", "car-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("get deleted document error = %v, want ErrNotFound", err)
		}
		if _, err := store.GetDocument(ctx, "maintenance-plan", "car-1"); err != nil {
			t.Fatalf("other model document must survive: %v", err)
		}
	})

	t.Run("list documents", func(t *testing.T) {
		store := open(t)
		putDocument(t, store, doc("current-position", "car-b", `{}`, 2))
		putDocument(t, store, doc("current-position", "car-a", `{}`, 1))
		putDocument(t, store, doc("maintenance-plan", "car-c", `{}`, 3))

		docs, err := store.ListDocuments(context.Background(), "current-position")
		if err != nil {
			t.Fatalf("list documents: %v", err)
		}
		if len(docs) != 2 || docs[0].Key != "car-a" || docs[1].Key != "car-b" {
			t.Fatalf("documents = %+v, want car-a then car-b", docs)
		}
	})

	t.Run("checkpoint advances inside batch", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		checkpoint, err := store.GetCheckpoint(ctx, "current_position")
		if err != nil {
			t.Fatalf("get initial checkpoint: %v", err)
		}
		if checkpoint.LastSeq != 0 {
			t.Fatalf("initial checkpoint = %d, want 0", checkpoint.LastSeq)
		}

		err = store.WithinProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
			if err := tx.PutDocument(ctx, doc("current-position", "car-1", `{"latitude":7}`, 5)); err != nil {
				return err
			}
			got, err := tx.GetDocument(ctx, "current-position", "car-1")
			if err != nil {
				return err
			}
			if got.LastSeq != 5 {
				t.Errorf("document inside batch LastSeq = %d, want 5", got.LastSeq)
			}
			return tx.SaveCheckpoint(ctx, "current_position", 0, 5)
		})
		if err != nil {
			t.Fatalf("apply batch: %v", err)
		}

		checkpoint, err = store.GetCheckpoint(ctx, "current_position")
		if err != nil {
			t.Fatalf("get checkpoint: %v", err)
		}
		if checkpoint.LastSeq != 5 || checkpoint.Projection != "current_position" {
			t.Fatalf("checkpoint = %+v, want current_position at 5", checkpoint)
		}
		if _, err := store.GetDocument(ctx, "current-position", "car-1"); err != nil {
			t.Fatalf("document written in batch: %v", err)
		}

		err = store.WithinProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
			return tx.SaveCheckpoint(ctx, "current_position", 5, 9)
		})
		if err != nil {
			t.Fatalf("advance checkpoint: %v", err)
		}
		other, err := store.GetCheckpoint(ctx, "maintenance_plan")
		if err != nil {
			t.Fatalf("get other checkpoint: %v", err)
		}
		if other.LastSeq != 0 {
			t.Fatalf("independent checkpoint = %d, want 0", other.LastSeq)
		}
	})

	t.Run("checkpoint conflict", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		advance(t, store, "maintenance_plan", 0, 4)

		err := store.WithinProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
			if err := tx.PutDocument(ctx, doc("maintenance-plan", "car-9", `{}`, 6)); err != nil {
				return err
			}
			return tx.SaveCheckpoint(ctx, "maintenance_plan", 2, 6)
		})
		if !errors.Is(err, storage.ErrCheckpointConflict) {
			t.Fatalf("stale checkpoint error = %v, want ErrCheckpointConflict", err)
		}
		checkpoint, err := store.GetCheckpoint(ctx, "maintenance_plan")
		if err != nil {
			t.Fatalf("get checkpoint: %v", err)
		}
		if checkpoint.LastSeq != 4 {
			t.Fatalf("checkpoint = %d, want unchanged 4", checkpoint.LastSeq)
		}
		if _, err := store.GetDocument(ctx, "maintenance-plan", "car-9"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("document from rejected batch error = %v, want ErrNotFound", err)
		}

		err = store.WithinProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
			return tx.SaveCheckpoint(ctx, "fresh_projection", 3, 4)
		})
		if !errors.Is(err, storage.ErrCheckpointConflict) {
			t.Fatalf("missing checkpoint with nonzero expected error = %v, want ErrCheckpointConflict", err)
		}
	})

	t.Run("failed batch", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		boom := errors.New("apply failed")

		err := store.WithinProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
			if err := tx.PutDocument(ctx, doc("current-position", "car-2", `{}`, 1)); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("batch error = %v, want %v", err, boom)
		}
		checkpoint, err := store.GetCheckpoint(ctx, "current_position")
		if err != nil {
			t.Fatalf("get checkpoint: %v", err)
		}
		if checkpoint.LastSeq != 0 {
			t.Fatalf("checkpoint = %d after failed batch, want 0", checkpoint.LastSeq)
		}
		if _, err := store.GetDocument(ctx, "current-position", "car-2"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("document from failed batch error = %v, want ErrNotFound", err)
		}
	})

	t.Run("reset projection", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		putDocument(t, store, doc("maintenance-plan", "car-1", `{}`, 1))
		putDocument(t, store, doc("maintenance-plan", "car-2", `{}`, 2))
		putDocument(t, store, doc("current-position", "car-1", `{}`, 3))
		advance(t, store, "maintenance_plan", 0, 3)
		advance(t, store, "current_position", 0, 3)

		if err := store.ResetProjection(ctx, "maintenance_plan", []string{"maintenance-plan"}); err != nil {
			t.Fatalf("reset projection: %v", err)
		}

		docs, err := store.ListDocuments(ctx, "maintenance-plan")
		if err != nil {
			t.Fatalf("list documents: %v", err)
		}
		if len(docs) != 0 {
			t.Fatalf("documents after reset = %d, want 0", len(docs))
		}
		if _, err := store.GetDocument(ctx, "current-position", "car-1"); err != nil {
			t.Fatalf("other projection's document must survive reset: %v", err)
		}
		reset, err := store.GetCheckpoint(ctx, "maintenance_plan")
		if err != nil {
			t.Fatalf("get reset checkpoint: %v", err)
		}
		if reset.LastSeq != 0 {
			t.Fatalf("reset checkpoint = %d, want 0", reset.LastSeq)
		}
		kept, err := store.GetCheckpoint(ctx, "current_position")
		if err != nil {
			t.Fatalf("get kept checkpoint: %v", err)
		}
		if kept.LastSeq != 3 {
			t.Fatalf("other checkpoint = %d, want 3", kept.LastSeq)
		}
		advance(t, store, "maintenance_plan", 0, 1)
	})

	t.Run("batch started before reset rolls back", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		err := store.WithinProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
			if err := tx.PutDocument(ctx, doc("maintenance-plan", "car-1", `{"items":[1,2]}`, 20)); err != nil {
				return err
			}
			return tx.SaveCheckpoint(ctx, "maintenance_plan", 0, 20)
		})
		if err != nil {
			t.Fatalf("first batch: %v", err)
		}

		// A runner read checkpoint 20, then a rebuild reset the projection
		// before its next batch committed.
		stale, err := store.GetCheckpoint(ctx, "maintenance_plan")
		if err != nil {
			t.Fatalf("get checkpoint: %v", err)
		}
		if err := store.ResetProjection(ctx, "maintenance_plan", []string{"maintenance-plan"}); err != nil {
			t.Fatalf("reset projection: %v", err)
		}
		err = store.WithinProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
			if _, err := tx.GetDocument(ctx, "maintenance-plan", "car-1"); !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("document after reset: %v", err)
			}
			if err := tx.PutDocument(ctx, doc("maintenance-plan", "car-1", `{"items":[3]}`, 30)); err != nil {
				return err
			}
			return tx.SaveCheckpoint(ctx, "maintenance_plan", stale.LastSeq, 30)
		})
		if !errors.Is(err, storage.ErrCheckpointConflict) {
			t.Fatalf("stale batch error = %v, want ErrCheckpointConflict", err)
		}
		if _, err := store.GetDocument(ctx, "maintenance-plan", "car-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("document from stale batch error = %v, want ErrNotFound", err)
		}

		// Replaying from zero rebuilds the same document a clean store would.
		err = store.WithinProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
			if err := tx.PutDocument(ctx, doc("maintenance-plan", "car-1", `{"items":[1,2,3]}`, 30)); err != nil {
				return err
			}
			return tx.SaveCheckpoint(ctx, "maintenance_plan", 0, 30)
		})
		if err != nil {
			t.Fatalf("replay batch: %v", err)
		}
		got, err := store.GetDocument(ctx, "maintenance-plan", "car-1")
		if err != nil {
			t.Fatalf("get replayed document: %v", err)
		}
		assertJSON(t, got.Body, `{"items":[1,2,3]}`)
	})

	t.Run("projection status", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		statuses := []storage.ProjectionStatus{
			{Projection: "maintenance_plan", State: "faulted", Attempts: 2, LastError: "boom", FaultedSeq: 7, UpdatedAt: now},
			{Projection: "current_position", State: "idle", UpdatedAt: now},
			{Projection: "maintenance_plan", State: "idle", UpdatedAt: now.Add(time.Minute)},
		}
		for _, status := range statuses {
			if err := store.SaveProjectionStatus(ctx, status); err != nil {
				t.Fatalf("save status: %v", err)
			}
		}

		got, err := store.ListProjectionStatuses(ctx)
		if err != nil {
			t.Fatalf("list statuses: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len(statuses) = %d, want 2", len(got))
		}
		if got[0].Projection != "current_position" || got[1].Projection != "maintenance_plan" {
			t.Fatalf("statuses not ordered by projection: %+v", got)
		}
		if got[1].State != "idle" || got[1].Attempts != 0 || got[1].LastError != "" || got[1].FaultedSeq != 0 {
			t.Fatalf("maintenance status = %+v, want replaced idle status", got[1])
		}
		if !got[1].UpdatedAt.Equal(now.Add(time.Minute)) {
			t.Fatalf("UpdatedAt = %v, want %v", got[1].UpdatedAt, now.Add(time.Minute))
		}
	})
}

func doc(model, key, body string, seq uint64) storage.Document {
	return storage.Document{
		Model:     model,
		Key:       key,
		Body:      json.RawMessage(body),
		LastSeq:   seq,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func putDocument(t *testing.T, store storage.DocumentStore, d storage.Document) {
	t.Helper()
	if err := store.PutDocument(context.Background(), d); err != nil {
		t.Fatalf("put document %s/%s: %v", d.Model, d.Key, err)
	}
}

func advance(t *testing.T, store storage.ProjectionStore, projection string, from, to uint64) {
	t.Helper()
	err := store.WithinProjectionTx(context.Background(), func(ctx context.Context, tx storage.ProjectionTx) error {
		return tx.SaveCheckpoint(ctx, projection, from, to)
	})
	if err != nil {
		t.Fatalf("advance %s from %d to %d: %v", projection, from, to, err)
	}
}

func assertJSON(t *testing.T, got json.RawMessage, want string) {
	t.Helper()
	var gotValue, wantValue any
	if err := json.Unmarshal(got, &gotValue); err != nil {
		t.Fatalf("decode body %s: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &wantValue); err != nil {
		t.Fatalf("decode want %s: %v", want, err)
	}
	gotJSON, _ := json.Marshal(gotValue)
	wantJSON, _ := json.Marshal(wantValue)
	if string(gotJSON) != string(wantJSON) {
		t.Fatalf("body = %s, want %s", gotJSON, wantJSON)
	}
}
