package projection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/motorpool/internal/platform/timeouts"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const tracerName = "github.com/louisbranch/motorpool/internal/services/fleet/projection"

// State is the phase a runner is in.
type State string

const (
	StateIdle          State = "idle"
	StateFetching      State = "fetching"
	StateApplying      State = "applying"
	StateCheckpointing State = "checkpointing"
	StateFaulted       State = "faulted"
)

// Options tune a runner. Zero fields take the defaults below.
type Options struct {
	BatchSize        int
	PollInterval     time.Duration
	RetryBackoff     time.Duration
	RetryMaxDelay    time.Duration
	ApplyTimeout     time.Duration
	TransientRetries int
}

const (
	defaultBatchSize        = 100
	defaultPollInterval     = 500 * time.Millisecond
	defaultRetryBackoff     = time.Second
	defaultRetryMaxDelay    = time.Minute
	defaultTransientRetries = 5
)

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryMaxDelay
	}
	if o.ApplyTimeout <= 0 {
		o.ApplyTimeout = timeouts.ProjectionApply
	}
	if o.TransientRetries < 0 {
		o.TransientRetries = 0
	} else if o.TransientRetries == 0 {
		o.TransientRetries = defaultTransientRetries
	}
	return o
}

// HealthSetter receives serving status changes; *health.Server satisfies it.
type HealthSetter interface {
	SetServingStatus(service string, servingStatus healthpb.HealthCheckResponse_ServingStatus)
}

// Snapshot is the in-memory view of a runner.
type Snapshot struct {
	Projection string
	State      State
	Attempts   int
	LastError  string
	FaultedSeq uint64
}

// Runner drives one projection from its checkpoint to the head of the feed.
type Runner struct {
	handler Handler
	feed    storage.FeedReader
	store   storage.ProjectionStore
	opts    Options
	health  HealthSetter
	tracer  trace.Tracer

	running  atomic.Bool
	rebuilds chan chan error

	mu         sync.Mutex
	state      State
	attempts   int
	lastErr    string
	faultedSeq uint64
}

// NewRunner builds a runner for h.
func NewRunner(h Handler, feed storage.FeedReader, store storage.ProjectionStore, opts Options, health HealthSetter) (*Runner, error) {
	if h == nil {
		return nil, fmt.Errorf("projection handler is required")
	}
	if feed == nil {
		return nil, fmt.Errorf("event feed is required")
	}
	if store == nil {
		return nil, fmt.Errorf("projection store is required")
	}
	return &Runner{
		handler:  h,
		feed:     feed,
		store:    store,
		opts:     opts.withDefaults(),
		health:   health,
		tracer:   otel.Tracer(tracerName),
		rebuilds: make(chan chan error),
		state:    StateIdle,
	}, nil
}

// Name returns the projection name.
func (r *Runner) Name() string {
	return r.handler.Name()
}

// Snapshot returns the runner's current phase and fault details.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Projection: r.handler.Name(),
		State:      r.state,
		Attempts:   r.attempts,
		LastError:  r.lastErr,
		FaultedSeq: r.faultedSeq,
	}
}

// Run processes batches until ctx is cancelled. Cancellation is observed
// between batches only. Apply faults are retried with exponential backoff and
// never skipped.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("projection %s is already running", r.Name())
	}
	defer r.running.Store(false)

	r.setHealth(healthpb.HealthCheckResponse_SERVING)
	defer r.setHealth(healthpb.HealthCheckResponse_NOT_SERVING)
	r.saveStatus(ctx)
	log.Printf("projection %s started", r.Name())

	for {
		if ctx.Err() != nil {
			r.stop(ctx)
			return nil
		}
		select {
		case done := <-r.rebuilds:
			r.serveRebuild(ctx, done)
		default:
		}

		var delay time.Duration
		applied, err := r.processBatch(ctx)
		switch {
		case err == nil && applied > 0:
			r.recover(ctx)
			continue
		case err == nil:
			r.recover(ctx)
			delay = r.opts.PollInterval
		case errors.Is(err, storage.ErrCheckpointConflict):
			// The checkpoint moved under the batch (a rebuild); refetch.
			continue
		default:
			delay = r.fault(ctx, err)
		}

		if !r.wait(ctx, delay) {
			r.stop(ctx)
			return nil
		}
	}
}

func (r *Runner) stop(ctx context.Context) {
	r.setState(StateIdle)
	r.saveStatus(ctx)
	log.Printf("projection %s stopped", r.Name())
}

// CatchUp applies batches until the feed is drained and returns the number of
// events applied. It does not retry apply faults.
func (r *Runner) CatchUp(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		applied, err := r.processBatch(ctx)
		if errors.Is(err, storage.ErrCheckpointConflict) {
			continue
		}
		if err != nil {
			return total, err
		}
		if applied == 0 {
			return total, nil
		}
		total += applied
	}
}

// Rebuild clears the projection's documents and checkpoint so it replays the
// feed from the start. A running loop performs the reset between batches.
func (r *Runner) Rebuild(ctx context.Context) error {
	if !r.running.Load() {
		return r.reset(ctx)
	}
	done := make(chan error, 1)
	select {
	case r.rebuilds <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) reset(ctx context.Context) error {
	if err := r.store.ResetProjection(ctx, r.Name(), r.handler.Models()); err != nil {
		return fmt.Errorf("reset projection %s: %w", r.Name(), err)
	}
	log.Printf("projection %s reset for rebuild", r.Name())
	return nil
}

// wait sleeps for delay, serving rebuild requests meanwhile. It returns false
// when ctx is cancelled.
func (r *Runner) wait(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case done := <-r.rebuilds:
		r.serveRebuild(ctx, done)
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) serveRebuild(ctx context.Context, done chan<- error) {
	err := r.reset(context.WithoutCancel(ctx))
	if err == nil {
		r.recover(ctx)
	}
	done <- err
}

// processBatch runs one fetch/apply/checkpoint cycle. The batch runs on a
// context detached from ctx and bounded by ApplyTimeout, so shutdown never
// interrupts it halfway.
func (r *Runner) processBatch(ctx context.Context) (int, error) {
	batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.ApplyTimeout)
	defer cancel()
	batchCtx, span := r.tracer.Start(batchCtx, "projection.ApplyBatch",
		trace.WithAttributes(attribute.String("projection.name", r.Name())),
	)
	defer span.End()

	r.setState(StateFetching)
	var (
		checkpoint storage.Checkpoint
		events     []event.Event
	)
	err := r.retryTransient(batchCtx, func() error {
		var err error
		checkpoint, err = r.store.GetCheckpoint(batchCtx, r.Name())
		if err != nil {
			return err
		}
		events, err = r.feed.ReadGlobalFeed(batchCtx, checkpoint.LastSeq, r.opts.BatchSize)
		return err
	})
	if err != nil {
		return 0, r.spanError(span, fmt.Errorf("fetch batch: %w", err))
	}
	if len(events) == 0 {
		r.setState(StateIdle)
		return 0, nil
	}
	last := events[len(events)-1].GlobalSeq
	span.SetAttributes(
		attribute.Int64("projection.from_seq", int64(checkpoint.LastSeq)),
		attribute.Int64("projection.to_seq", int64(last)),
		attribute.Int("projection.batch_size", len(events)),
	)

	err = r.retryTransient(batchCtx, func() error {
		return r.store.WithinProjectionTx(batchCtx, func(ctx context.Context, tx storage.ProjectionTx) error {
			r.setState(StateApplying)
			for _, evt := range events {
				if err := applyEvent(ctx, r.handler, tx, evt); err != nil {
					return err
				}
			}
			r.setState(StateCheckpointing)
			return tx.SaveCheckpoint(ctx, r.Name(), checkpoint.LastSeq, last)
		})
	})
	if err != nil {
		return 0, r.spanError(span, err)
	}
	r.setState(StateIdle)
	return len(events), nil
}

// retryTransient retries op while it fails with a transient store error.
func (r *Runner) retryTransient(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(50*time.Millisecond, r.opts.RetryMaxDelay)
	b.MaxInterval = r.opts.RetryMaxDelay
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !storage.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(r.opts.TransientRetries)+1))
	return err
}

// fault records a failed batch and returns how long to wait before retrying
// the same batch.
func (r *Runner) fault(ctx context.Context, err error) time.Duration {
	r.mu.Lock()
	r.state = StateFaulted
	r.attempts++
	r.lastErr = err.Error()
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		r.faultedSeq = applyErr.GlobalSeq
	}
	attempts := r.attempts
	r.mu.Unlock()

	delay := RetryDelay(r.opts.RetryBackoff, r.opts.RetryMaxDelay, attempts)
	log.Printf("projection %s faulted (attempt %d, retry in %s): %v", r.Name(), attempts, delay, err)
	r.setHealth(healthpb.HealthCheckResponse_NOT_SERVING)
	r.saveStatus(ctx)
	return delay
}

// recover clears a previous fault after a successful batch.
func (r *Runner) recover(ctx context.Context) {
	r.mu.Lock()
	wasFaulted := r.attempts > 0
	r.attempts = 0
	r.lastErr = ""
	r.faultedSeq = 0
	r.mu.Unlock()
	if !wasFaulted {
		return
	}
	log.Printf("projection %s recovered", r.Name())
	r.setHealth(healthpb.HealthCheckResponse_SERVING)
	r.saveStatus(ctx)
}

func (r *Runner) saveStatus(ctx context.Context) {
	snapshot := r.Snapshot()
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
	defer cancel()
	if err := r.store.SaveProjectionStatus(statusCtx, storage.ProjectionStatus{
		Projection: snapshot.Projection,
		State:      string(snapshot.State),
		Attempts:   snapshot.Attempts,
		LastError:  snapshot.LastError,
		FaultedSeq: snapshot.FaultedSeq,
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("projection %s: save status: %v", r.Name(), err)
	}
}

func (r *Runner) setState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateFaulted && state != StateFetching {
		return
	}
	r.state = state
}

func (r *Runner) setHealth(status healthpb.HealthCheckResponse_ServingStatus) {
	if r.health == nil {
		return
	}
	r.health.SetServingStatus(HealthService(r.Name()), status)
}

func (r *Runner) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// RetryDelay is the wait before retry attempt n: base doubled per attempt,
// capped at maxDelay.
func RetryDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}
