// Package storage defines the persistence contracts of the fleet service.
//
// Why this package exists:
//   - The event journal and the read-model store have different backends
//     (SQLite, Postgres, MongoDB) and the service, projections, and tools must
//     not depend on any one of them.
//   - It owns the error taxonomy callers branch on: ErrNotFound,
//     ErrConcurrencyConflict, ErrCheckpointConflict, and transient store
//     failures.
package storage
