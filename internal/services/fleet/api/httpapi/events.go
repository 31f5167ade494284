package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

type eventView struct {
	ID         string          `json:"id"`
	CarID      string          `json:"car_id"`
	StreamSeq  uint64          `json:"stream_seq"`
	GlobalSeq  uint64          `json:"global_seq"`
	Type       event.Type      `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type eventsResponse struct {
	Events []eventView `json:"events"`
	// NextAfter is the after value of the next page; zero when the page was empty.
	NextAfter uint64 `json:"next_after,omitempty"`
}

type documentView struct {
	Model     string          `json:"model"`
	CarID     string          `json:"car_id"`
	LastSeq   uint64          `json:"last_seq"`
	UpdatedAt time.Time       `json:"updated_at"`
	Body      json.RawMessage `json:"body"`
}

func toEventViews(events []event.Event) ([]eventView, error) {
	views := make([]eventView, 0, len(events))
	for _, evt := range events {
		payload, err := event.Encode(evt.Payload)
		if err != nil {
			return nil, err
		}
		views = append(views, eventView{
			ID:         evt.ID,
			CarID:      evt.StreamID,
			StreamSeq:  evt.StreamSeq,
			GlobalSeq:  evt.GlobalSeq,
			Type:       evt.Type,
			Payload:    payload,
			RecordedAt: evt.RecordedAt.UTC(),
		})
	}
	return views, nil
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := storage.ListEventsRequest{Filter: query.Get("filter")}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, invalidArgument("after", "after must be a non-negative integer"))
			return
		}
		req.AfterSeq = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, invalidArgument("limit", "limit must be an integer"))
			return
		}
		req.Limit = limit
	}

	events, err := h.fleet.ListEvents(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := toEventViews(events)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := eventsResponse{Events: views}
	if len(events) > 0 {
		resp.NextAfter = events[len(events)-1].GlobalSeq
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getReadModel(w http.ResponseWriter, r *http.Request) {
	doc, err := h.fleet.GetReadModel(r.Context(), chi.URLParam(r, "streamID"), chi.URLParam(r, "model"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentView{
		Model:     doc.Model,
		CarID:     doc.Key,
		LastSeq:   doc.LastSeq,
		UpdatedAt: doc.UpdatedAt.UTC(),
		Body:      doc.Body,
	})
}
