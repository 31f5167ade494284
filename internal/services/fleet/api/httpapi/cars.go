package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

type locationRequest struct {
	Latitude        int    `json:"latitude"`
	Longitude       int    `json:"longitude"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type maintenanceRequest struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Checked         bool   `json:"checked"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type createdResponse struct {
	ID string `json:"id"`
}

// createCar starts a car stream at the posted location, or at (0,0) when the
// body is empty.
func (h *Handler) createCar(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeOptionalBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}
	id, err := h.fleet.CreateStream(r.Context(), event.LocationUpdated{Latitude: req.Latitude, Longitude: req.Longitude})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/cars/"+id)
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.append(w, r, event.LocationUpdated{Latitude: req.Latitude, Longitude: req.Longitude}, req.ExpectedVersion)
}

func (h *Handler) upsertMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.append(w, r, event.MaintenanceItemUpserted{
		ItemID:      req.ID,
		Name:        req.Name,
		Description: req.Description,
		Checked:     req.Checked,
	}, req.ExpectedVersion)
}

func (h *Handler) removeMaintenance(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.Atoi(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, r, invalidArgument("item_id", "maintenance item id must be an integer"))
		return
	}
	expected, err := expectedVersionParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.append(w, r, event.MaintenanceItemRemoved{ItemID: itemID}, expected)
}

// append writes one event and reports the new stream version in the
// X-Car-Version header for the next conditional write.
func (h *Handler) append(w http.ResponseWriter, r *http.Request, payload event.Payload, expected *int64) {
	expectedVersion := storage.AnyVersion
	if expected != nil {
		expectedVersion = *expected
	}
	result, err := h.fleet.AppendEvent(r.Context(), chi.URLParam(r, "carID"), payload, expectedVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-Car-Version", strconv.FormatUint(result.Version, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getLive(w http.ResponseWriter, r *http.Request) {
	state, err := h.fleet.GetLiveAggregate(r.Context(), chi.URLParam(r, "carID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) getPosition(w http.ResponseWriter, r *http.Request) {
	position, err := h.fleet.GetCurrentPosition(r.Context(), chi.URLParam(r, "carID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (h *Handler) getMaintenance(w http.ResponseWriter, r *http.Request) {
	plan, err := h.fleet.GetMaintenancePlan(r.Context(), chi.URLParam(r, "carID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) getCarEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.fleet.ReadStream(r.Context(), chi.URLParam(r, "carID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := toEventViews(events)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: views})
}

func expectedVersionParam(r *http.Request) (*int64, error) {
	raw := r.URL.Query().Get("expected_version")
	if raw == "" {
		return nil, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, invalidArgument("expected_version", "expected version must be an integer")
	}
	return &version, nil
}
