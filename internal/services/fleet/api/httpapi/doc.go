// Package httpapi exposes the fleet service over JSON HTTP.
//
// Writes return as soon as the event is appended. Position and maintenance
// reads serve projection documents and may lag the write; the live endpoint
// folds the stream on every request and never lags.
package httpapi
