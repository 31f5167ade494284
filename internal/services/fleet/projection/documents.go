package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// loadDocument decodes the document for key into T. found is false when the
// document does not exist yet.
func loadDocument[T any](ctx context.Context, docs storage.DocumentStore, model, key string) (value T, lastSeq uint64, found bool, err error) {
	doc, err := docs.GetDocument(ctx, model, key)
	if errors.Is(err, storage.ErrNotFound) {
		return value, 0, false, nil
	}
	if err != nil {
		return value, 0, false, err
	}
	if err := json.Unmarshal(doc.Body, &value); err != nil {
		return value, 0, false, fmt.Errorf("decode %s/%s: %w", model, key, err)
	}
	return value, doc.LastSeq, true, nil
}

// saveDocument stores value as the document for evt's stream at evt's
// global sequence.
func saveDocument(ctx context.Context, docs storage.DocumentStore, model string, evt event.Event, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", model, evt.StreamID, err)
	}
	return docs.PutDocument(ctx, storage.Document{
		Model:     model,
		Key:       evt.StreamID,
		Body:      body,
		LastSeq:   evt.GlobalSeq,
		UpdatedAt: evt.RecordedAt,
	})
}
