package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/louisbranch/motorpool/internal/services/fleet/domain/car"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/projection"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// Fleet is the application surface the handlers call.
type Fleet interface {
	CreateStream(ctx context.Context, payload event.Payload) (string, error)
	AppendEvent(ctx context.Context, streamID string, payload event.Payload, expectedVersion int64) (storage.AppendResult, error)
	GetLiveAggregate(ctx context.Context, streamID string) (car.State, error)
	GetReadModel(ctx context.Context, streamID, model string) (storage.Document, error)
	GetCurrentPosition(ctx context.Context, streamID string) (projection.CurrentPosition, error)
	GetMaintenancePlan(ctx context.Context, streamID string) (projection.MaintenancePlan, error)
	ReadStream(ctx context.Context, streamID string) ([]event.Event, error)
	ListEvents(ctx context.Context, req storage.ListEventsRequest) ([]event.Event, error)
}

// Projections reports and rebuilds projection runners.
type Projections interface {
	Statuses(ctx context.Context) ([]projection.Status, error)
	Rebuild(ctx context.Context, name string) error
}

// Handler serves the fleet HTTP API.
type Handler struct {
	fleet       Fleet
	projections Projections
}

// NewHandler returns the routed API. A nil projections disables the
// projection admin routes.
func NewHandler(fleet Fleet, projections Projections) http.Handler {
	h := &Handler{fleet: fleet, projections: projections}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/cars", func(r chi.Router) {
		r.Post("/", h.createCar)
		r.Route("/{carID}", func(r chi.Router) {
			r.Put("/location", h.updateLocation)
			r.Get("/live", h.getLive)
			r.Get("/position", h.getPosition)
			r.Get("/maintenance", h.getMaintenance)
			r.Put("/maintenance", h.upsertMaintenance)
			r.Delete("/maintenance/{itemID}", h.removeMaintenance)
			r.Get("/events", h.getCarEvents)
		})
	})
	r.Get("/read-models/{model}/{streamID}", h.getReadModel)
	r.Get("/events", h.listEvents)
	r.Get("/projections", h.listProjections)
	r.Post("/projections/{name}/rebuild", h.rebuildProjection)
	return r
}
