// Package storagetest holds the behavior every storage backend must share.
// Backend packages run these suites from their own tests.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// RunEventStoreTests exercises an EventStore. open must return an empty store.
func RunEventStoreTests(t *testing.T, open func(t *testing.T) storage.EventStore) {
	t.Helper()

	t.Run("create stream", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		streamID := uuid.NewString()

		result, err := store.AppendEvents(ctx, streamID, storage.NoStream, []event.Payload{event.LocationUpdated{}})
		if err != nil {
			t.Fatalf("create stream: %v", err)
		}
		if result.Version != 1 || len(result.Events) != 1 {
			t.Fatalf("create result = %+v, want version 1 with one event", result)
		}
		evt := result.Events[0]
		if evt.StreamSeq != 1 || evt.GlobalSeq == 0 || evt.ID == "" || evt.RecordedAt.IsZero() {
			t.Fatalf("created event missing positions: %+v", evt)
		}

		_, err = store.AppendEvents(ctx, streamID, storage.NoStream, []event.Payload{event.LocationUpdated{Latitude: 1}})
		if !errors.Is(err, storage.ErrConcurrencyConflict) {
			t.Fatalf("second create error = %v, want ErrConcurrencyConflict", err)
		}
		assertStreamLen(t, store, streamID, 1)
	})

	t.Run("append requires existing stream", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		for _, expected := range []int64{storage.AnyVersion, 3} {
			_, err := store.AppendEvents(ctx, uuid.NewString(), expected, []event.Payload{event.LocationUpdated{}})
			if !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("append to missing stream with expected %d: error = %v, want ErrNotFound", expected, err)
			}
		}
	})

	t.Run("append rejects empty batch", func(t *testing.T) {
		store := open(t)
		if _, err := store.AppendEvents(context.Background(), uuid.NewString(), storage.NoStream, nil); err == nil {
			t.Fatal("expected empty append to fail")
		}
	})

	t.Run("stream sequences are contiguous", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		streamID := createStream(t, store)

		result, err := store.AppendEvents(ctx, streamID, 1, []event.Payload{
			event.MaintenanceItemUpserted{ItemID: 1, Name: "Oil change"},
			event.MaintenanceItemUpserted{ItemID: 1, Checked: true},
			event.LocationUpdated{Latitude: 10, Longitude: 5},
		})
		if err != nil {
			t.Fatalf("append batch: %v", err)
		}
		if result.Version != 4 {
			t.Fatalf("version = %d, want 4", result.Version)
		}
		if _, err := store.AppendEvents(ctx, streamID, storage.AnyVersion, []event.Payload{event.MaintenanceItemRemoved{ItemID: 1}}); err != nil {
			t.Fatalf("append any version: %v", err)
		}

		events, err := store.ReadStream(ctx, streamID)
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if len(events) != 5 {
			t.Fatalf("len(events) = %d, want 5", len(events))
		}
		var lastGlobal uint64
		for i, evt := range events {
			if evt.StreamSeq != uint64(i+1) {
				t.Fatalf("event %d stream seq = %d, want %d", i, evt.StreamSeq, i+1)
			}
			if evt.GlobalSeq <= lastGlobal {
				t.Fatalf("event %d global seq %d not above %d", i, evt.GlobalSeq, lastGlobal)
			}
			lastGlobal = evt.GlobalSeq
			if evt.StreamID != streamID {
				t.Fatalf("event %d stream = %q, want %q", i, evt.StreamID, streamID)
			}
		}
		upsert, ok := events[2].Payload.(event.MaintenanceItemUpserted)
		if !ok || !upsert.Checked || upsert.ItemID != 1 {
			t.Fatalf("event 3 payload = %#v, want checked upsert of item 1", events[2].Payload)
		}
	})

	t.Run("stale expected version conflicts without writing", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		streamID := createStream(t, store)
		if _, err := store.AppendEvents(ctx, streamID, 1, []event.Payload{event.LocationUpdated{Latitude: 2}}); err != nil {
			t.Fatalf("append: %v", err)
		}
		latestBefore, err := store.LatestGlobalSeq(ctx)
		if err != nil {
			t.Fatalf("latest seq: %v", err)
		}

		for _, stale := range []int64{1, 5} {
			_, err := store.AppendEvents(ctx, streamID, stale, []event.Payload{event.LocationUpdated{Latitude: 3}, event.LocationUpdated{Latitude: 4}})
			if !errors.Is(err, storage.ErrConcurrencyConflict) {
				t.Fatalf("append with expected %d: error = %v, want ErrConcurrencyConflict", stale, err)
			}
		}
		assertStreamLen(t, store, streamID, 2)
		latestAfter, err := store.LatestGlobalSeq(ctx)
		if err != nil {
			t.Fatalf("latest seq: %v", err)
		}
		if latestAfter != latestBefore {
			t.Fatalf("latest global seq moved from %d to %d on a rejected append", latestBefore, latestAfter)
		}
	})

	t.Run("concurrent appends with same expected version", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		streamID := createStream(t, store)

		const writers = 6
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.AppendEvents(ctx, streamID, 1, []event.Payload{event.LocationUpdated{Latitude: i}})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, storage.ErrConcurrencyConflict):
			default:
				t.Fatalf("unexpected append error: %v", err)
			}
		}
		if succeeded != 1 {
			t.Fatalf("succeeded = %d, want exactly 1", succeeded)
		}
		assertStreamLen(t, store, streamID, 2)
	})

	t.Run("read missing stream", func(t *testing.T) {
		store := open(t)
		if _, err := store.ReadStream(context.Background(), uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("read missing stream error = %v, want ErrNotFound", err)
		}
	})

	t.Run("global feed", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		empty, err := store.ReadGlobalFeed(ctx, 0, 10)
		if err != nil {
			t.Fatalf("read empty feed: %v", err)
		}
		if len(empty) != 0 {
			t.Fatalf("empty feed returned %d events", len(empty))
		}

		first := createStream(t, store)
		second := createStream(t, store)
		if _, err := store.AppendEvents(ctx, first, 1, []event.Payload{event.LocationUpdated{Latitude: 1}}); err != nil {
			t.Fatalf("append first: %v", err)
		}
		if _, err := store.AppendEvents(ctx, second, 1, []event.Payload{event.MaintenanceItemRemoved{ItemID: 9}}); err != nil {
			t.Fatalf("append second: %v", err)
		}

		all, err := store.ReadGlobalFeed(ctx, 0, 100)
		if err != nil {
			t.Fatalf("read feed: %v", err)
		}
		if len(all) != 4 {
			t.Fatalf("len(feed) = %d, want 4", len(all))
		}
		for i := 1; i < len(all); i++ {
			if all[i].GlobalSeq <= all[i-1].GlobalSeq {
				t.Fatalf("feed not ascending at %d: %d after %d", i, all[i].GlobalSeq, all[i-1].GlobalSeq)
			}
		}
		latest, err := store.LatestGlobalSeq(ctx)
		if err != nil {
			t.Fatalf("latest seq: %v", err)
		}
		if latest != all[3].GlobalSeq {
			t.Fatalf("latest = %d, want %d", latest, all[3].GlobalSeq)
		}

		cursor := all[1].GlobalSeq
		page, err := store.ReadGlobalFeed(ctx, cursor, 1)
		if err != nil {
			t.Fatalf("read page: %v", err)
		}
		if len(page) != 1 || page[0].GlobalSeq != all[2].GlobalSeq {
			t.Fatalf("page after %d = %+v, want seq %d", cursor, page, all[2].GlobalSeq)
		}
		rest, err := store.ReadGlobalFeed(ctx, page[0].GlobalSeq, 100)
		if err != nil {
			t.Fatalf("read rest: %v", err)
		}
		if len(rest) != 1 || rest[0].GlobalSeq != all[3].GlobalSeq {
			t.Fatalf("rest = %+v, want only seq %d", rest, all[3].GlobalSeq)
		}
		tail, err := store.ReadGlobalFeed(ctx, latest, 100)
		if err != nil {
			t.Fatalf("read tail: %v", err)
		}
		if len(tail) != 0 {
			t.Fatalf("feed after latest returned %d events", len(tail))
		}
	})

	t.Run("list events with filter", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		first := createStream(t, store)
		second := createStream(t, store)
		if _, err := store.AppendEvents(ctx, first, 1, []event.Payload{event.MaintenanceItemUpserted{ItemID: 1, Name: "Brakes"}}); err != nil {
			t.Fatalf("append: %v", err)
		}

		locations, err := store.ListEvents(ctx, storage.ListEventsRequest{Filter: `type = "car.location_updated"`, Limit: 10})
		if err != nil {
			t.Fatalf("list by type: %v", err)
		}
		if len(locations) != 2 {
			t.Fatalf("len(locations) = %d, want 2", len(locations))
		}

		forSecond, err := store.ListEvents(ctx, storage.ListEventsRequest{Filter: `stream_id = "` + second + `"`, Limit: 10})
		if err != nil {
			t.Fatalf("list by stream: %v", err)
		}
		if len(forSecond) != 1 || forSecond[0].StreamID != second {
			t.Fatalf("events for second stream = %+v", forSecond)
		}

		combined, err := store.ListEvents(ctx, storage.ListEventsRequest{
			Filter: `stream_id = "` + first + `" AND stream_seq >= 2`,
			Limit:  10,
		})
		if err != nil {
			t.Fatalf("list combined: %v", err)
		}
		if len(combined) != 1 || combined[0].Type != event.TypeMaintenanceItemUpserted {
			t.Fatalf("combined filter = %+v, want the upsert only", combined)
		}

		if _, err := store.ListEvents(ctx, storage.ListEventsRequest{Filter: `color = "red"`}); err == nil {
			t.Fatal("expected unknown filter field to fail")
		}
	})
}

func createStream(t *testing.T, store storage.EventStore) string {
	t.Helper()
	streamID := uuid.NewString()
	if _, err := store.AppendEvents(context.Background(), streamID, storage.NoStream, []event.Payload{event.LocationUpdated{}}); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	return streamID
}

func assertStreamLen(t *testing.T, store storage.EventStore, streamID string, want int) {
	t.Helper()
	events, err := store.ReadStream(context.Background(), streamID)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(events) != want {
		t.Fatalf("stream length = %d, want %d", len(events), want)
	}
}
