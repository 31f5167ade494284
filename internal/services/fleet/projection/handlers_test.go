package projection

import (
	"context"
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage/memory"
)

func applyAll(t *testing.T, h Handler, docs storage.DocumentStore, events ...event.Event) {
	t.Helper()
	for _, e := range events {
		if err := Dispatch(context.Background(), h, docs, e); err != nil {
			t.Fatalf("apply %s at %d: %v", e.Type, e.GlobalSeq, err)
		}
	}
}

func TestMaintenanceUpsertUpdatesCheckedInPlace(t *testing.T) {
	docs := memory.New()
	applyAll(t, MaintenanceProjection{}, docs,
		evt("car-1", 1, event.MaintenanceItemUpserted{ItemID: 1, Name: "Oil change", Description: "5W-30"}),
		evt("car-1", 2, event.MaintenanceItemUpserted{ItemID: 1, Name: "ignored", Checked: true}),
	)

	plan := decodeDoc[MaintenancePlan](t, docs, ModelMaintenancePlan, "car-1")
	want := []MaintenanceItem{{ID: 1, Name: "Oil change", Description: "5W-30", Checked: true}}
	if !reflect.DeepEqual(plan.Items, want) {
		t.Fatalf("items = %+v, want %+v", plan.Items, want)
	}
	if plan.LastSeq != 2 || plan.CarID != "car-1" {
		t.Fatalf("plan = %+v, want car-1 at seq 2", plan)
	}
}

func TestMaintenanceNewItemStartsUnchecked(t *testing.T) {
	docs := memory.New()
	applyAll(t, MaintenanceProjection{}, docs,
		evt("car-1", 1, event.MaintenanceItemUpserted{ItemID: 3, Name: "Tires", Checked: true}),
	)
	plan := decodeDoc[MaintenancePlan](t, docs, ModelMaintenancePlan, "car-1")
	if len(plan.Items) != 1 || plan.Items[0].Checked {
		t.Fatalf("items = %+v, want one unchecked item", plan.Items)
	}
}

func TestMaintenanceRemoval(t *testing.T) {
	docs := memory.New()

	applyAll(t, MaintenanceProjection{}, docs, evt("car-1", 1, event.MaintenanceItemRemoved{ItemID: 42}))
	if _, err := docs.GetDocument(context.Background(), ModelMaintenancePlan, "car-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("removal on a car without a plan created a document: %v", err)
	}

	applyAll(t, MaintenanceProjection{}, docs,
		evt("car-1", 2, event.MaintenanceItemUpserted{ItemID: 1, Name: "Oil change"}),
		evt("car-1", 3, event.MaintenanceItemUpserted{ItemID: 2, Name: "Brakes"}),
		evt("car-1", 4, event.MaintenanceItemRemoved{ItemID: 99}),
		evt("car-1", 5, event.MaintenanceItemRemoved{ItemID: 1}),
		evt("car-1", 6, event.MaintenanceItemRemoved{ItemID: 1}),
	)
	plan := decodeDoc[MaintenancePlan](t, docs, ModelMaintenancePlan, "car-1")
	if len(plan.Items) != 1 || plan.Items[0].ID != 2 {
		t.Fatalf("items = %+v, want only item 2", plan.Items)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	batch := []event.Event{
		evt("car-1", 1, event.LocationUpdated{Latitude: 1, Longitude: 1}),
		evt("car-1", 2, event.MaintenanceItemUpserted{ItemID: 1, Name: "Oil change"}),
		evt("car-2", 3, event.MaintenanceItemUpserted{ItemID: 7, Name: "Wipers"}),
		evt("car-1", 4, event.MaintenanceItemUpserted{ItemID: 1, Checked: true}),
		evt("car-1", 5, event.LocationUpdated{Latitude: 10, Longitude: 5}),
		evt("car-2", 6, event.MaintenanceItemRemoved{ItemID: 7}),
	}

	for _, h := range Handlers() {
		t.Run(h.Name(), func(t *testing.T) {
			once := memory.New()
			applyAll(t, h, once, batch...)

			twice := memory.New()
			applyAll(t, h, twice, batch...)
			applyAll(t, h, twice, batch...)
			// A crash after part of the batch replays its prefix again.
			applyAll(t, h, twice, batch[:3]...)

			for _, model := range h.Models() {
				want, err := once.ListDocuments(context.Background(), model)
				if err != nil {
					t.Fatalf("list once: %v", err)
				}
				got, err := twice.ListDocuments(context.Background(), model)
				if err != nil {
					t.Fatalf("list twice: %v", err)
				}
				if len(got) != len(want) {
					t.Fatalf("%s: %d documents, want %d", model, len(got), len(want))
				}
				for i := range want {
					if !sameJSON(got[i].Body, want[i].Body) || got[i].LastSeq != want[i].LastSeq {
						t.Fatalf("%s/%s = %s, want %s", model, want[i].Key, got[i].Body, want[i].Body)
					}
				}
			}
		})
	}
}

func TestPositionLastWriteWins(t *testing.T) {
	docs := memory.New()
	applyAll(t, PositionProjection{}, docs,
		evt("car-1", 1, event.LocationUpdated{Latitude: 0, Longitude: 0}),
		evt("car-1", 4, event.LocationUpdated{Latitude: 10, Longitude: 5}),
		evt("car-1", 3, event.LocationUpdated{Latitude: 99, Longitude: 99}),
	)
	pos := decodeDoc[CurrentPosition](t, docs, ModelCurrentPosition, "car-1")
	if pos.Latitude != 10 || pos.Longitude != 5 || pos.LastSeq != 4 {
		t.Fatalf("position = %+v, want (10,5) at seq 4", pos)
	}

	applyAll(t, PositionProjection{}, docs,
		evt("car-1", 5, event.MaintenanceItemUpserted{ItemID: 1}),
	)
	if _, err := docs.GetDocument(context.Background(), ModelMaintenancePlan, "car-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("position projection wrote a maintenance plan: %v", err)
	}
}

func TestDispatchRejectsMissingPayload(t *testing.T) {
	err := Dispatch(context.Background(), PositionProjection{}, memory.New(), event.Event{GlobalSeq: 1})
	if apperrors.CodeOf(err) != apperrors.CodeUnknownEventType {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeUnknownEventType)
	}
}

func TestApplyErrorUnwrapsBothWays(t *testing.T) {
	cause := storage.Transient("store down", errors.New("io"))
	err := error(&ApplyError{Projection: NameMaintenancePlan, GlobalSeq: 9, Type: event.TypeMaintenanceItemUpserted, Err: cause})
	if !errors.Is(err, ErrApplyFailure) {
		t.Fatal("ApplyError should match ErrApplyFailure")
	}
	if !storage.IsTransient(err) {
		t.Fatal("ApplyError should expose a transient cause")
	}
	if apperrors.CodeOf(err) != apperrors.CodeApplyFailure {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeApplyFailure)
	}
}

func TestLookupAndOwner(t *testing.T) {
	h, err := Lookup(NameMaintenancePlan)
	if err != nil || h.Name() != NameMaintenancePlan {
		t.Fatalf("Lookup = %v, %v", h, err)
	}
	if _, err := Lookup("fuel_level"); apperrors.CodeOf(err) != apperrors.CodeUnknownProjection {
		t.Fatalf("Lookup unknown code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeUnknownProjection)
	}
	owner, err := OwnerOf(ModelCurrentPosition)
	if err != nil || owner.Name() != NameCurrentPosition {
		t.Fatalf("OwnerOf = %v, %v", owner, err)
	}
	if _, err := OwnerOf("fuel"); apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("OwnerOf unknown code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeInvalidArgument)
	}
	if got := HealthService(NameCurrentPosition); got != "projection.current_position" {
		t.Fatalf("HealthService = %q", got)
	}
}
