package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/car"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/projection"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

const tracerName = "github.com/louisbranch/motorpool/internal/services/fleet/service"

// Options tunes store retries.
type Options struct {
	// TransientRetries bounds the retries of a store call that failed with a
	// transient error. Zero disables retries.
	TransientRetries int
	// RetryMaxDelay caps the delay between retries.
	RetryMaxDelay time.Duration
}

// DefaultOptions returns the retry policy used by the fleet process.
func DefaultOptions() Options {
	return Options{TransientRetries: 3, RetryMaxDelay: time.Second}
}

// Service appends car events and reads cars back.
type Service struct {
	events      storage.EventStore
	projections storage.ProjectionStore
	opts        Options
	tracer      trace.Tracer
	newID       func() string
}

// New builds a Service. A nil projections store disables read-model queries.
func New(events storage.EventStore, projections storage.ProjectionStore, opts Options) (*Service, error) {
	if events == nil {
		return nil, errors.New("event store is required")
	}
	if opts.TransientRetries < 0 {
		return nil, errors.New("transient retries must not be negative")
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = time.Second
	}
	return &Service{
		events:      events,
		projections: projections,
		opts:        opts,
		tracer:      otel.Tracer(tracerName),
		newID:       uuid.NewString,
	}, nil
}

// CreateStream starts a new car stream with payload as its first event and
// returns the generated car id.
func (s *Service) CreateStream(ctx context.Context, payload event.Payload) (string, error) {
	if payload == nil {
		payload = event.LocationUpdated{}
	}
	streamID := s.newID()
	ctx, span := s.tracer.Start(ctx, "fleet.CreateStream", trace.WithAttributes(attribute.String("car.id", streamID)))
	defer span.End()

	if _, err := s.append(ctx, streamID, storage.NoStream, payload); err != nil {
		return "", spanError(span, err)
	}
	return streamID, nil
}

// AppendEvent appends payload to an existing car stream. expectedVersion is
// storage.AnyVersion or the version the caller last read.
func (s *Service) AppendEvent(ctx context.Context, streamID string, payload event.Payload, expectedVersion int64) (storage.AppendResult, error) {
	if err := validateStreamID(streamID); err != nil {
		return storage.AppendResult{}, err
	}
	if expectedVersion < storage.AnyVersion {
		return storage.AppendResult{}, invalidArgument("expected_version", "expected version must be -1 or a stream version")
	}
	if expectedVersion == storage.NoStream {
		return storage.AppendResult{}, invalidArgument("expected_version", "appending to a car requires an existing stream")
	}
	ctx, span := s.tracer.Start(ctx, "fleet.AppendEvent", trace.WithAttributes(
		attribute.String("car.id", streamID),
		attribute.Int64("expected_version", expectedVersion),
	))
	defer span.End()

	result, err := s.append(ctx, streamID, expectedVersion, payload)
	if err != nil {
		return storage.AppendResult{}, spanError(span, err)
	}
	return result, nil
}

// append retries transient failures only against an exact expected version.
// AnyVersion is pinned to the stream's current version first, so a commit
// whose reply was lost surfaces as a conflict instead of a second copy.
func (s *Service) append(ctx context.Context, streamID string, expectedVersion int64, payload event.Payload) (storage.AppendResult, error) {
	if err := event.Validate(payload); err != nil {
		return storage.AppendResult{}, err
	}
	if expectedVersion != storage.AnyVersion {
		result, _, err := s.appendAt(ctx, streamID, expectedVersion, payload)
		return result, err
	}
	for attempt := 0; ; attempt++ {
		version, err := s.streamVersion(ctx, streamID)
		if err != nil {
			return storage.AppendResult{}, err
		}
		result, uncertain, err := s.appendAt(ctx, streamID, version, payload)
		if err == nil || uncertain || !errors.Is(err, storage.ErrConcurrencyConflict) || attempt >= s.opts.TransientRetries {
			return result, err
		}
	}
}

// appendAt reports uncertain when any attempt failed transiently, since that
// attempt may still have committed.
func (s *Service) appendAt(ctx context.Context, streamID string, expectedVersion int64, payload event.Payload) (storage.AppendResult, bool, error) {
	uncertain := false
	result, err := retry(ctx, s.opts, func() (storage.AppendResult, error) {
		result, err := s.events.AppendEvents(ctx, streamID, expectedVersion, []event.Payload{payload})
		if storage.IsTransient(err) {
			uncertain = true
		}
		return result, err
	})
	return result, uncertain, err
}

func (s *Service) streamVersion(ctx context.Context, streamID string) (int64, error) {
	events, err := retry(ctx, s.opts, func() ([]event.Event, error) {
		return s.events.ReadStream(ctx, streamID)
	})
	if err != nil {
		return 0, notFound(err, "Car")
	}
	if len(events) == 0 {
		return 0, notFound(storage.ErrNotFound, "Car")
	}
	return int64(events[len(events)-1].StreamSeq), nil
}

// GetLiveAggregate folds the car stream into its current state.
func (s *Service) GetLiveAggregate(ctx context.Context, streamID string) (car.State, error) {
	ctx, span := s.tracer.Start(ctx, "fleet.GetLiveAggregate", trace.WithAttributes(attribute.String("car.id", streamID)))
	defer span.End()

	events, err := s.ReadStream(ctx, streamID)
	if err != nil {
		return car.State{}, spanError(span, err)
	}
	state, err := car.Fold(events)
	if err != nil {
		return car.State{}, spanError(span, apperrors.Wrap(apperrors.CodeUnknown, "fold car "+streamID, err))
	}
	span.SetAttributes(attribute.Int64("car.version", int64(state.Version)))
	return state, nil
}

// ReadStream returns the events of one car in stream order.
func (s *Service) ReadStream(ctx context.Context, streamID string) ([]event.Event, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "fleet.ReadStream", trace.WithAttributes(attribute.String("car.id", streamID)))
	defer span.End()

	events, err := retry(ctx, s.opts, func() ([]event.Event, error) {
		return s.events.ReadStream(ctx, streamID)
	})
	if err != nil {
		return nil, spanError(span, notFound(err, "Car"))
	}
	return events, nil
}

// ListEvents pages the global history.
func (s *Service) ListEvents(ctx context.Context, req storage.ListEventsRequest) ([]event.Event, error) {
	if req.Limit < 0 {
		return nil, invalidArgument("limit", "limit must not be negative")
	}
	return retry(ctx, s.opts, func() ([]event.Event, error) {
		return s.events.ListEvents(ctx, req)
	})
}

// GetReadModel returns the document a projection keeps for the car. The
// document lags the stream until the owning projection catches up.
func (s *Service) GetReadModel(ctx context.Context, streamID, model string) (storage.Document, error) {
	if s.projections == nil {
		return storage.Document{}, apperrors.New(apperrors.CodeProjectionsDisabled, "projection store is not configured")
	}
	if _, err := projection.OwnerOf(model); err != nil {
		return storage.Document{}, err
	}
	if err := validateStreamID(streamID); err != nil {
		return storage.Document{}, err
	}
	ctx, span := s.tracer.Start(ctx, "fleet.GetReadModel", trace.WithAttributes(
		attribute.String("car.id", streamID),
		attribute.String("read_model", model),
	))
	defer span.End()

	doc, err := retry(ctx, s.opts, func() (storage.Document, error) {
		return s.projections.GetDocument(ctx, model, streamID)
	})
	if err != nil {
		return storage.Document{}, spanError(span, notFound(err, "Read model"))
	}
	return doc, nil
}

// GetCurrentPosition returns the car's current-position document.
func (s *Service) GetCurrentPosition(ctx context.Context, streamID string) (projection.CurrentPosition, error) {
	return readModel[projection.CurrentPosition](ctx, s, streamID, projection.ModelCurrentPosition)
}

// GetMaintenancePlan returns the car's maintenance-plan document.
func (s *Service) GetMaintenancePlan(ctx context.Context, streamID string) (projection.MaintenancePlan, error) {
	return readModel[projection.MaintenancePlan](ctx, s, streamID, projection.ModelMaintenancePlan)
}

func readModel[T any](ctx context.Context, s *Service, streamID, model string) (T, error) {
	var value T
	doc, err := s.GetReadModel(ctx, streamID, model)
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal(doc.Body, &value); err != nil {
		return value, apperrors.Wrap(apperrors.CodeUnknown, "decode "+model+" document", err)
	}
	return value, nil
}

// retry runs op again while it fails with a transient store error.
// Conflicts and missing records are returned at once.
func retry[T any](ctx context.Context, opts Options, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(25*time.Millisecond, opts.RetryMaxDelay)
	b.MaxInterval = opts.RetryMaxDelay
	return backoff.Retry(ctx, func() (T, error) {
		value, err := op()
		if err != nil && !storage.IsTransient(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(opts.TransientRetries)+1))
}

func validateStreamID(streamID string) error {
	if streamID == "" {
		return invalidArgument("car_id", "car id is required")
	}
	if _, err := uuid.Parse(streamID); err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeInvalidArgument, "car id must be a UUID", map[string]string{"Field": "car_id"}, err)
	}
	return nil
}

func invalidArgument(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, message, map[string]string{"Field": field})
}

// notFound names the missing resource for localized messages.
func notFound(err error, resource string) error {
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return apperrors.WrapWithMetadata(apperrors.CodeNotFound, resource+" not found", map[string]string{"Resource": resource}, err)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
