package projection

import (
	"context"
	"time"

	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// CurrentPosition is the current-position document of one car.
type CurrentPosition struct {
	CarID     string    `json:"car_id"`
	Latitude  int       `json:"latitude"`
	Longitude int       `json:"longitude"`
	LastSeq   uint64    `json:"last_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionProjection keeps the latest reported position per car.
type PositionProjection struct{}

var _ Handler = PositionProjection{}

func (PositionProjection) Name() string     { return NameCurrentPosition }
func (PositionProjection) Models() []string { return []string{ModelCurrentPosition} }

// LocationUpdated overwrites the position; the feed order makes the last
// write the newest report.
func (PositionProjection) LocationUpdated(ctx context.Context, docs storage.DocumentStore, evt event.Event, payload event.LocationUpdated) error {
	_, lastSeq, found, err := loadDocument[CurrentPosition](ctx, docs, ModelCurrentPosition, evt.StreamID)
	if err != nil {
		return err
	}
	if found && evt.GlobalSeq <= lastSeq {
		return nil
	}
	return saveDocument(ctx, docs, ModelCurrentPosition, evt, CurrentPosition{
		CarID:     evt.StreamID,
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		LastSeq:   evt.GlobalSeq,
		UpdatedAt: evt.RecordedAt,
	})
}

func (PositionProjection) MaintenanceItemUpserted(context.Context, storage.DocumentStore, event.Event, event.MaintenanceItemUpserted) error {
	return nil
}

func (PositionProjection) MaintenanceItemRemoved(context.Context, storage.DocumentStore, event.Event, event.MaintenanceItemRemoved) error {
	return nil
}
