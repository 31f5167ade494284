// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// StoreConnect caps the time spent establishing a connection to a networked
// store (Postgres, MongoDB) during startup.
const StoreConnect = 10 * time.Second

// ProjectionApply caps a single projection batch when no explicit timeout is
// configured. A batch that exceeds it faults its projection.
const ProjectionApply = 30 * time.Second
