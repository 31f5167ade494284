package projection

import (
	"slices"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
)

// Projection names, used for checkpoints, status rows and health services.
const (
	NameCurrentPosition = "current_position"
	NameMaintenancePlan = "maintenance_plan"
)

// Read-model names, the Model of stored documents.
const (
	ModelCurrentPosition = "current-position"
	ModelMaintenancePlan = "maintenance-plan"
)

// Handlers returns every projection in a stable order.
func Handlers() []Handler {
	return []Handler{PositionProjection{}, MaintenanceProjection{}}
}

// Lookup returns the projection with the given name.
func Lookup(name string) (Handler, error) {
	for _, h := range Handlers() {
		if h.Name() == name {
			return h, nil
		}
	}
	return nil, apperrors.WithMetadata(apperrors.CodeUnknownProjection, "unknown projection "+name, map[string]string{"Projection": name})
}

// OwnerOf returns the projection that writes model.
func OwnerOf(model string) (Handler, error) {
	for _, h := range Handlers() {
		if slices.Contains(h.Models(), model) {
			return h, nil
		}
	}
	return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown read model "+model, map[string]string{"Field": "model"})
}

// HealthService is the gRPC health service name reporting a projection.
func HealthService(name string) string {
	return "projection." + name
}
