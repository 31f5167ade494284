package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown             = "UNKNOWN"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeNotFound            = "NOT_FOUND"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeCheckpointConflict  = "CHECKPOINT_CONFLICT"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeUnknownEventType    = "UNKNOWN_EVENT_TYPE"
	CodeApplyFailure        = "APPLY_FAILURE"
	CodeUnknownProjection   = "UNKNOWN_PROJECTION"
	CodeProjectionsDisabled = "PROJECTIONS_DISABLED"
)

var enUSMessages = map[Code]string{
	CodeUnknown:             "An unexpected error occurred",
	CodeInvalidArgument:     "{{if .Field}}Invalid {{.Field}}{{else}}Invalid request{{end}}",
	CodeNotFound:            "{{if .Resource}}{{.Resource}} not found{{else}}Not found{{end}}",
	CodeConcurrencyConflict: "The car was changed by another request; reload it and try again",
	CodeCheckpointConflict:  "The projection checkpoint moved while a batch was being applied",
	CodeStoreUnavailable:    "Storage is temporarily unavailable; try again shortly",
	CodeUnknownEventType:    "Unknown event type {{.EventType}}",
	CodeApplyFailure:        "Projection {{.Projection}} failed to apply an event",
	CodeUnknownProjection:   "Unknown projection {{.Projection}}",
	CodeProjectionsDisabled: "Projections are not running in this process",
}
