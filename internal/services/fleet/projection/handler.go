package projection

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// Handler applies events to the documents of one projection. Methods for
// variants a projection ignores return nil.
type Handler interface {
	// Name is the projection name checkpoints are stored under.
	Name() string
	// Models lists the read models the projection owns; a rebuild clears them.
	Models() []string

	LocationUpdated(ctx context.Context, docs storage.DocumentStore, evt event.Event, payload event.LocationUpdated) error
	MaintenanceItemUpserted(ctx context.Context, docs storage.DocumentStore, evt event.Event, payload event.MaintenanceItemUpserted) error
	MaintenanceItemRemoved(ctx context.Context, docs storage.DocumentStore, evt event.Event, payload event.MaintenanceItemRemoved) error
}

// Dispatch routes evt to the handler method for its payload.
func Dispatch(ctx context.Context, h Handler, docs storage.DocumentStore, evt event.Event) error {
	switch payload := evt.Payload.(type) {
	case event.LocationUpdated:
		return h.LocationUpdated(ctx, docs, evt, payload)
	case event.MaintenanceItemUpserted:
		return h.MaintenanceItemUpserted(ctx, docs, evt, payload)
	case event.MaintenanceItemRemoved:
		return h.MaintenanceItemRemoved(ctx, docs, evt, payload)
	default:
		return apperrors.WithMetadata(
			apperrors.CodeUnknownEventType,
			fmt.Sprintf("no route for payload %T", evt.Payload),
			map[string]string{"EventType": string(evt.Type)},
		)
	}
}

// ErrApplyFailure matches every ApplyError.
var ErrApplyFailure = apperrors.New(apperrors.CodeApplyFailure, "projection apply failed")

// ApplyError reports the event a projection failed to apply.
type ApplyError struct {
	Projection string
	GlobalSeq  uint64
	Type       event.Type
	Err        error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("projection %s: apply %s at seq %d: %v", e.Projection, e.Type, e.GlobalSeq, e.Err)
}

// Unwrap exposes both the apply-failure code and the underlying cause, so a
// transient store error inside an apply is still recognized as transient.
func (e *ApplyError) Unwrap() []error {
	return []error{ErrApplyFailure, e.Err}
}

func applyEvent(ctx context.Context, h Handler, docs storage.DocumentStore, evt event.Event) error {
	if err := Dispatch(ctx, h, docs, evt); err != nil {
		return &ApplyError{Projection: h.Name(), GlobalSeq: evt.GlobalSeq, Type: evt.Type, Err: err}
	}
	return nil
}
