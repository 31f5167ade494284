package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
)

// ErrNotFound indicates a requested stream or document is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrConcurrencyConflict indicates an append whose expected version did not
// match the stream. Nothing was appended; callers re-read and retry.
var ErrConcurrencyConflict = apperrors.New(apperrors.CodeConcurrencyConflict, "stream version conflict")

// ErrCheckpointConflict indicates a projection checkpoint moved underneath a
// batch (for example a concurrent rebuild). The batch was not committed.
var ErrCheckpointConflict = apperrors.New(apperrors.CodeCheckpointConflict, "projection checkpoint moved")

// ErrStoreUnavailable is the sentinel matched by transient store failures.
var ErrStoreUnavailable = apperrors.New(apperrors.CodeStoreUnavailable, "store unavailable")

// Transient wraps a retryable backend failure.
func Transient(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeStoreUnavailable, message, cause)
}

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Expected versions accepted by AppendEvents besides an exact version.
const (
	// AnyVersion appends to an existing stream regardless of its version.
	AnyVersion int64 = -1
	// NoStream creates the stream; it fails with ErrConcurrencyConflict when
	// the stream already exists.
	NoStream int64 = 0
)

// AppendResult describes the events written by one append.
type AppendResult struct {
	StreamID string
	// Version is the stream version after the append.
	Version uint64
	Events  []event.Event
}

// ListEventsRequest pages the global history with an optional AIP-160 filter
// over stream_id, type, global_seq, stream_seq and ts.
type ListEventsRequest struct {
	AfterSeq uint64
	Limit    int
	Filter   string
}

// FeedReader reads the global, cross-stream event order. Projections consume
// the journal only through it.
type FeedReader interface {
	// ReadGlobalFeed returns up to limit events with GlobalSeq > afterSeq in
	// ascending order.
	ReadGlobalFeed(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
	// LatestGlobalSeq returns the highest assigned global sequence, or zero.
	LatestGlobalSeq(ctx context.Context) (uint64, error)
}

// EventStore is the append-only journal of car streams.
type EventStore interface {
	FeedReader
	// AppendEvents appends payloads to a stream all-or-nothing, assigning
	// contiguous stream sequences and increasing global sequences.
	AppendEvents(ctx context.Context, streamID string, expectedVersion int64, payloads []event.Payload) (AppendResult, error)
	// ReadStream returns a stream's events in stream order, or ErrNotFound.
	ReadStream(ctx context.Context, streamID string) ([]event.Event, error)
	// ListEvents pages the global history with a filter.
	ListEvents(ctx context.Context, req ListEventsRequest) ([]event.Event, error)
}

// Document is one read-model document keyed by (Model, Key).
type Document struct {
	Model string
	// Key is the owning stream id.
	Key  string
	Body json.RawMessage
	// LastSeq is the global sequence of the last event applied to the document.
	LastSeq   uint64
	UpdatedAt time.Time
}

// DocumentStore is the keyed-document primitive projections write through.
type DocumentStore interface {
	GetDocument(ctx context.Context, model, key string) (Document, error)
	// PutDocument inserts or replaces a document.
	PutDocument(ctx context.Context, doc Document) error
	// DeleteDocument removes a document; deleting a missing one is not an error.
	DeleteDocument(ctx context.Context, model, key string) error
}

// DocumentLister enumerates a model's documents ordered by key.
type DocumentLister interface {
	ListDocuments(ctx context.Context, model string) ([]Document, error)
}

// Checkpoint is the highest global sequence a projection has fully applied.
type Checkpoint struct {
	Projection string
	LastSeq    uint64
	UpdatedAt  time.Time
}

// ProjectionStatus is the persisted health of one projection runner.
type ProjectionStatus struct {
	Projection string
	State      string
	// Attempts counts consecutive failed batches; zero when healthy.
	Attempts  int
	LastError string
	// FaultedSeq is the global sequence of the event that failed, if any.
	FaultedSeq uint64
	UpdatedAt  time.Time
}

// ProjectionTx is the unit a projection batch is written in.
type ProjectionTx interface {
	DocumentStore
	// SaveCheckpoint moves a checkpoint from expected to next. It returns
	// ErrCheckpointConflict when the stored value is not expected.
	SaveCheckpoint(ctx context.Context, projection string, expected, next uint64) error
}

// ProjectionStore holds read-model documents, checkpoints and runner status.
type ProjectionStore interface {
	DocumentStore
	DocumentLister
	// GetCheckpoint returns the checkpoint, with LastSeq zero when none was saved.
	GetCheckpoint(ctx context.Context, projection string) (Checkpoint, error)
	// WithinProjectionTx runs fn as one batch. Documents and the checkpoint
	// commit together or not at all.
	WithinProjectionTx(ctx context.Context, fn func(context.Context, ProjectionTx) error) error
	// ResetProjection deletes the documents of models and zeroes the checkpoint.
	ResetProjection(ctx context.Context, projection string, models []string) error
	SaveProjectionStatus(ctx context.Context, status ProjectionStatus) error
	ListProjectionStatuses(ctx context.Context) ([]ProjectionStatus, error)
}
