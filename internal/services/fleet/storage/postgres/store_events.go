package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/services/fleet/core/filter"
	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

const (
	defaultListEventsLimit = 50
	maxListEventsLimit     = 500
)

const eventColumns = `global_seq, event_id, stream_id, stream_seq, event_type, payload_json, recorded_at`

// AppendEvents atomically appends payloads to a stream.
func (s *Store) AppendEvents(ctx context.Context, streamID string, expectedVersion int64, payloads []event.Payload) (storage.AppendResult, error) {
	if err := s.ready(ctx); err != nil {
		return storage.AppendResult{}, err
	}
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return storage.AppendResult{}, fmt.Errorf("stream id is required")
	}
	if len(payloads) == 0 {
		return storage.AppendResult{}, fmt.Errorf("at least one event is required")
	}
	if expectedVersion < storage.AnyVersion {
		return storage.AppendResult{}, fmt.Errorf("expected version %d is invalid", expectedVersion)
	}

	encoded := make([][]byte, len(payloads))
	for i, payload := range payloads {
		if err := event.Validate(payload); err != nil {
			return storage.AppendResult{}, fmt.Errorf("event %d: %w", i, err)
		}
		data, err := event.Encode(payload)
		if err != nil {
			return storage.AppendResult{}, fmt.Errorf("event %d: %w", i, err)
		}
		encoded[i] = data
	}

	var result storage.AppendResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		result, err = appendEventsTx(ctx, tx, streamID, expectedVersion, payloads, encoded)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrConcurrencyConflict):
			return storage.AppendResult{}, err
		case isUniqueViolation(err):
			return storage.AppendResult{}, storage.ErrConcurrencyConflict
		}
		return storage.AppendResult{}, wrapErr("append events", err)
	}
	return result, nil
}

func appendEventsTx(ctx context.Context, tx pgx.Tx, streamID string, expectedVersion int64, payloads []event.Payload, encoded [][]byte) (storage.AppendResult, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	var version int64
	err := tx.QueryRow(ctx, `SELECT version FROM streams WHERE stream_id = $1 FOR UPDATE`, streamID).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedVersion != storage.NoStream {
			return storage.AppendResult{}, storage.ErrNotFound
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO streams (stream_id, version, created_at, updated_at) VALUES ($1, 0, $2, $2)
			 ON CONFLICT (stream_id) DO NOTHING`,
			streamID, now.UnixMilli(),
		)
		if err != nil {
			return storage.AppendResult{}, err
		}
		if tag.RowsAffected() == 0 {
			return storage.AppendResult{}, storage.ErrConcurrencyConflict
		}
	case err != nil:
		return storage.AppendResult{}, err
	case expectedVersion == storage.NoStream:
		return storage.AppendResult{}, storage.ErrConcurrencyConflict
	case expectedVersion != storage.AnyVersion && version != expectedVersion:
		return storage.AppendResult{}, storage.ErrConcurrencyConflict
	}

	n := int64(len(payloads))
	var lastSeq int64
	if err := tx.QueryRow(ctx,
		`UPDATE global_position SET last_seq = last_seq + $1 WHERE id = 1 RETURNING last_seq`,
		n,
	).Scan(&lastSeq); err != nil {
		return storage.AppendResult{}, fmt.Errorf("reserve global seq: %w", err)
	}
	firstSeq := lastSeq - n + 1

	events := make([]event.Event, len(payloads))
	rows := make([][]any, len(payloads))
	for i, payload := range payloads {
		evt := event.Event{
			ID:         uuid.NewString(),
			StreamID:   streamID,
			StreamSeq:  uint64(version) + uint64(i) + 1,
			GlobalSeq:  uint64(firstSeq) + uint64(i),
			Type:       payload.EventType(),
			Payload:    payload,
			RecordedAt: now,
		}
		events[i] = evt
		rows[i] = []any{
			int64(evt.GlobalSeq), evt.ID, evt.StreamID, int64(evt.StreamSeq),
			string(evt.Type), string(encoded[i]), now.UnixMilli(),
		}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"events"},
		[]string{"global_seq", "event_id", "stream_id", "stream_seq", "event_type", "payload_json", "recorded_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return storage.AppendResult{}, fmt.Errorf("copy events: %w", err)
	}

	newVersion := version + n
	if _, err := tx.Exec(ctx,
		`UPDATE streams SET version = $1, updated_at = $2 WHERE stream_id = $3`,
		newVersion, now.UnixMilli(), streamID,
	); err != nil {
		return storage.AppendResult{}, fmt.Errorf("update stream version: %w", err)
	}

	return storage.AppendResult{StreamID: streamID, Version: uint64(newVersion), Events: events}, nil
}

// ReadStream returns every event of a stream in stream order.
func (s *Store) ReadStream(ctx context.Context, streamID string) ([]event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return nil, fmt.Errorf("stream id is required")
	}
	events, err := s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE stream_id = $1 ORDER BY stream_seq`, streamID)
	if err != nil {
		return nil, wrapErr("read stream", err)
	}
	if len(events) == 0 {
		return nil, storage.ErrNotFound
	}
	return events, nil
}

// ReadGlobalFeed returns up to limit events after afterSeq in global order.
func (s *Store) ReadGlobalFeed(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE global_seq > $1 ORDER BY global_seq LIMIT $2`,
		int64(afterSeq), limit,
	)
	if err != nil {
		return nil, wrapErr("read global feed", err)
	}
	return events, nil
}

// LatestGlobalSeq returns the highest committed global sequence.
func (s *Store) LatestGlobalSeq(ctx context.Context) (uint64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var latest int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(global_seq), 0) FROM events`).Scan(&latest); err != nil {
		return 0, wrapErr("latest global seq", err)
	}
	return uint64(latest), nil
}

// ListEvents pages the global history after req.AfterSeq, narrowed by an
// AIP-160 filter.
func (s *Store) ListEvents(ctx context.Context, req storage.ListEventsRequest) ([]event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	cond, err := filter.ParseEventFilter(req.Filter)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeInvalidArgument, "invalid event filter", map[string]string{"Field": "filter"}, err)
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE global_seq > $1`
	params := []any{int64(req.AfterSeq)}
	if !cond.Empty() {
		query += ` AND ` + cond.Numbered(2)
		params = append(params, cond.Params...)
	}
	params = append(params, clampLimit(req.Limit))
	query += ` ORDER BY global_seq LIMIT $` + strconv.Itoa(len(params))

	events, err := s.queryEvents(ctx, query, params...)
	if err != nil {
		return nil, wrapErr("list events", err)
	}
	return events, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListEventsLimit
	}
	if limit > maxListEventsLimit {
		return maxListEventsLimit
	}
	return limit
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEvent)
}

func scanEvent(row pgx.CollectableRow) (event.Event, error) {
	var (
		globalSeq, streamSeq, recordedAt int64
		evt                              event.Event
		eventType                        string
		payloadJSON                      []byte
	)
	if err := row.Scan(&globalSeq, &evt.ID, &evt.StreamID, &streamSeq, &eventType, &payloadJSON, &recordedAt); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	evt.GlobalSeq = uint64(globalSeq)
	evt.StreamSeq = uint64(streamSeq)
	evt.Type = event.Type(eventType)
	evt.RecordedAt = time.UnixMilli(recordedAt).UTC()
	payload, err := event.Decode(evt.Type, payloadJSON)
	if err != nil {
		return event.Event{}, fmt.Errorf("decode event %d: %w", evt.GlobalSeq, err)
	}
	evt.Payload = payload
	return evt, nil
}
