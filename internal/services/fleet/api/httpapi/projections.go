package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/services/fleet/projection"
)

type projectionsResponse struct {
	Projections []projection.Status `json:"projections"`
}

func (h *Handler) listProjections(w http.ResponseWriter, r *http.Request) {
	if h.projections == nil {
		writeError(w, r, errProjectionsDisabled)
		return
	}
	statuses, err := h.projections.Statuses(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectionsResponse{Projections: statuses})
}

func (h *Handler) rebuildProjection(w http.ResponseWriter, r *http.Request) {
	if h.projections == nil {
		writeError(w, r, errProjectionsDisabled)
		return
	}
	if err := h.projections.Rebuild(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

var errProjectionsDisabled = apperrors.New(apperrors.CodeProjectionsDisabled, "projections are not running in this process")
