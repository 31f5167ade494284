// Package service is the fleet application layer: it appends car events and
// serves both read paths, the live aggregate folded from a stream and the
// read-model documents written by projections.
package service
