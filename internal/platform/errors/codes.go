// Package errors provides structured error handling with i18n support.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Storage errors
	CodeNotFound            Code = "NOT_FOUND"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeCheckpointConflict  Code = "CHECKPOINT_CONFLICT"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"

	// Event errors
	CodeUnknownEventType Code = "UNKNOWN_EVENT_TYPE"

	// Projection errors
	CodeApplyFailure        Code = "APPLY_FAILURE"
	CodeUnknownProjection   Code = "UNKNOWN_PROJECTION"
	CodeProjectionsDisabled Code = "PROJECTIONS_DISABLED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument, CodeUnknownEventType, CodeUnknownProjection:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConcurrencyConflict, CodeCheckpointConflict:
		return http.StatusConflict
	case CodeStoreUnavailable, CodeProjectionsDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
