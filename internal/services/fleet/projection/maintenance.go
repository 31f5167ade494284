package projection

import (
	"context"
	"slices"

	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// MaintenancePlan is the maintenance-plan document of one car.
type MaintenancePlan struct {
	CarID   string            `json:"car_id"`
	Items   []MaintenanceItem `json:"items"`
	LastSeq uint64            `json:"last_seq"`
}

// MaintenanceItem is one entry of a plan. Ids are unique within a plan.
type MaintenanceItem struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Checked     bool   `json:"checked"`
}

// MaintenanceProjection keeps each car's maintenance plan.
type MaintenanceProjection struct{}

var _ Handler = MaintenanceProjection{}

func (MaintenanceProjection) Name() string     { return NameMaintenancePlan }
func (MaintenanceProjection) Models() []string { return []string{ModelMaintenancePlan} }

func (MaintenanceProjection) LocationUpdated(context.Context, storage.DocumentStore, event.Event, event.LocationUpdated) error {
	return nil
}

// MaintenanceItemUpserted adds an unknown item unchecked, or sets the checked
// flag of a known one.
func (MaintenanceProjection) MaintenanceItemUpserted(ctx context.Context, docs storage.DocumentStore, evt event.Event, payload event.MaintenanceItemUpserted) error {
	plan, lastSeq, found, err := loadDocument[MaintenancePlan](ctx, docs, ModelMaintenancePlan, evt.StreamID)
	if err != nil {
		return err
	}
	if found && evt.GlobalSeq <= lastSeq {
		return nil
	}
	if !found {
		plan = MaintenancePlan{CarID: evt.StreamID}
	}

	idx := slices.IndexFunc(plan.Items, func(item MaintenanceItem) bool { return item.ID == payload.ItemID })
	if idx >= 0 {
		plan.Items[idx].Checked = payload.Checked
	} else {
		plan.Items = append(plan.Items, MaintenanceItem{
			ID:          payload.ItemID,
			Name:        payload.Name,
			Description: payload.Description,
		})
	}
	plan.LastSeq = evt.GlobalSeq
	return saveDocument(ctx, docs, ModelMaintenancePlan, evt, plan)
}

// MaintenanceItemRemoved drops items with the id; an unknown id or plan is a
// no-op.
func (MaintenanceProjection) MaintenanceItemRemoved(ctx context.Context, docs storage.DocumentStore, evt event.Event, payload event.MaintenanceItemRemoved) error {
	plan, lastSeq, found, err := loadDocument[MaintenancePlan](ctx, docs, ModelMaintenancePlan, evt.StreamID)
	if err != nil {
		return err
	}
	if !found || evt.GlobalSeq <= lastSeq {
		return nil
	}
	plan.Items = slices.DeleteFunc(plan.Items, func(item MaintenanceItem) bool { return item.ID == payload.ItemID })
	plan.LastSeq = evt.GlobalSeq
	return saveDocument(ctx, docs, ModelMaintenancePlan, evt, plan)
}
