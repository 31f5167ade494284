package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/memory"
)

const replayBatchSize = 500

// Replay applies every event with GlobalSeq <= untilSeq to docs without
// touching checkpoints. It returns the number of events read.
func Replay(ctx context.Context, feed storage.FeedReader, h Handler, docs storage.DocumentStore, untilSeq uint64) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for cursor < untilSeq {
		events, err := feed.ReadGlobalFeed(ctx, cursor, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("read feed after %d: %w", cursor, err)
		}
		if len(events) == 0 {
			break
		}
		for _, evt := range events {
			if evt.GlobalSeq > untilSeq {
				return total, nil
			}
			if err := applyEvent(ctx, h, docs, evt); err != nil {
				return total, err
			}
			cursor = evt.GlobalSeq
			total++
		}
	}
	return total, nil
}

// Drift kinds reported by CheckIntegrity.
const (
	DriftMissing  = "missing"
	DriftExtra    = "extra"
	DriftMismatch = "mismatch"
	// DriftAhead marks a stored document newer than the checkpoint, left by a
	// batch that wrote documents but not yet its checkpoint. It is not drift.
	DriftAhead = "ahead"
)

// Drift is one document that differs from a replay of the feed.
type Drift struct {
	Model string `json:"model"`
	Key   string `json:"key"`
	Kind  string `json:"kind"`
}

// IntegrityReport compares a projection's stored documents with a fresh
// replay up to its checkpoint.
type IntegrityReport struct {
	Projection string  `json:"projection"`
	Checkpoint uint64  `json:"checkpoint"`
	Replayed   int     `json:"replayed"`
	Checked    int     `json:"checked"`
	Drift      []Drift `json:"drift,omitempty"`
}

// Drifted reports whether any document differs from the replay.
func (r IntegrityReport) Drifted() bool {
	for _, d := range r.Drift {
		if d.Kind != DriftAhead {
			return true
		}
	}
	return false
}

// CheckIntegrity replays the feed up to the projection's checkpoint into a
// scratch store and compares every owned document.
func CheckIntegrity(ctx context.Context, feed storage.FeedReader, store storage.ProjectionStore, h Handler) (IntegrityReport, error) {
	checkpoint, err := store.GetCheckpoint(ctx, h.Name())
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("checkpoint %s: %w", h.Name(), err)
	}
	report := IntegrityReport{Projection: h.Name(), Checkpoint: checkpoint.LastSeq}

	scratch := memory.New()
	report.Replayed, err = Replay(ctx, feed, h, scratch, checkpoint.LastSeq)
	if err != nil {
		return report, err
	}

	for _, model := range h.Models() {
		want, err := scratch.ListDocuments(ctx, model)
		if err != nil {
			return report, err
		}
		got, err := store.ListDocuments(ctx, model)
		if err != nil {
			return report, fmt.Errorf("list %s: %w", model, err)
		}
		stored := make(map[string]storage.Document, len(got))
		for _, doc := range got {
			stored[doc.Key] = doc
		}

		for _, expected := range want {
			report.Checked++
			actual, ok := stored[expected.Key]
			delete(stored, expected.Key)
			switch {
			case !ok:
				report.Drift = append(report.Drift, Drift{Model: model, Key: expected.Key, Kind: DriftMissing})
			case actual.LastSeq > checkpoint.LastSeq:
				report.Drift = append(report.Drift, Drift{Model: model, Key: expected.Key, Kind: DriftAhead})
			case !sameJSON(expected.Body, actual.Body):
				report.Drift = append(report.Drift, Drift{Model: model, Key: expected.Key, Kind: DriftMismatch})
			}
		}
		for _, doc := range got {
			if _, extra := stored[doc.Key]; !extra {
				continue
			}
			kind := DriftExtra
			if doc.LastSeq > checkpoint.LastSeq {
				kind = DriftAhead
			}
			report.Checked++
			report.Drift = append(report.Drift, Drift{Model: model, Key: doc.Key, Kind: kind})
		}
	}
	return report, nil
}

func sameJSON(a, b []byte) bool {
	var left, right any
	if json.Unmarshal(a, &left) != nil || json.Unmarshal(b, &right) != nil {
		return false
	}
	return reflect.DeepEqual(left, right)
}
