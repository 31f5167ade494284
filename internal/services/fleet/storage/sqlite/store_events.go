package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
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
	err := s.inTx(ctx, "append events", func(tx *Store) error {
		var err error
		result, err = tx.appendEventsTx(ctx, streamID, expectedVersion, payloads, encoded)
		return err
	})
	if err != nil {
		return storage.AppendResult{}, err
	}
	return result, nil
}

func (s *Store) appendEventsTx(ctx context.Context, streamID string, expectedVersion int64, payloads []event.Payload, encoded [][]byte) (storage.AppendResult, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	var version int64
	err := s.q.QueryRowContext(ctx, `SELECT version FROM streams WHERE stream_id = ?`, streamID).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != storage.NoStream {
			return storage.AppendResult{}, storage.ErrNotFound
		}
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO streams (stream_id, version, created_at, updated_at) VALUES (?, 0, ?, ?)`,
			streamID, toMillis(now), toMillis(now),
		); err != nil {
			if isConstraintError(err) {
				return storage.AppendResult{}, storage.ErrConcurrencyConflict
			}
			return storage.AppendResult{}, err
		}
	case err != nil:
		return storage.AppendResult{}, err
	case expectedVersion == storage.NoStream:
		return storage.AppendResult{}, storage.ErrConcurrencyConflict
	case expectedVersion != storage.AnyVersion && version != expectedVersion:
		return storage.AppendResult{}, storage.ErrConcurrencyConflict
	}

	events := make([]event.Event, 0, len(payloads))
	for i, payload := range payloads {
		evt := event.Event{
			ID:         uuid.NewString(),
			StreamID:   streamID,
			StreamSeq:  uint64(version) + uint64(i) + 1,
			Type:       payload.EventType(),
			Payload:    payload,
			RecordedAt: now,
		}
		res, err := s.q.ExecContext(ctx,
			`INSERT INTO events (event_id, stream_id, stream_seq, event_type, payload_json, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			evt.ID, evt.StreamID, int64(evt.StreamSeq), string(evt.Type), encoded[i], toMillis(evt.RecordedAt),
		)
		if err != nil {
			if isConstraintError(err) {
				return storage.AppendResult{}, storage.ErrConcurrencyConflict
			}
			return storage.AppendResult{}, fmt.Errorf("insert event %d: %w", i, err)
		}
		globalSeq, err := res.LastInsertId()
		if err != nil {
			return storage.AppendResult{}, fmt.Errorf("read global seq: %w", err)
		}
		evt.GlobalSeq = uint64(globalSeq)
		events = append(events, evt)
	}

	newVersion := version + int64(len(payloads))
	if _, err := s.q.ExecContext(ctx,
		`UPDATE streams SET version = ?, updated_at = ? WHERE stream_id = ?`,
		newVersion, toMillis(now), streamID,
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

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE stream_id = ? ORDER BY stream_seq`,
		streamID,
	)
	if err != nil {
		return nil, wrapErr("read stream", err)
	}
	events, err := scanEvents(rows)
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

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE global_seq > ? ORDER BY global_seq LIMIT ?`,
		int64(afterSeq), limit,
	)
	if err != nil {
		return nil, wrapErr("read global feed", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, wrapErr("read global feed", err)
	}
	return events, nil
}

// LatestGlobalSeq returns the highest assigned global sequence.
func (s *Store) LatestGlobalSeq(ctx context.Context) (uint64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var latest int64
	if err := s.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(global_seq), 0) FROM events`).Scan(&latest); err != nil {
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

	query := `SELECT ` + eventColumns + ` FROM events WHERE global_seq > ?`
	params := []any{int64(req.AfterSeq)}
	if !cond.Empty() {
		query += ` AND ` + cond.Clause
		params = append(params, cond.Params...)
	}
	query += ` ORDER BY global_seq LIMIT ?`
	params = append(params, clampLimit(req.Limit))

	rows, err := s.q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, wrapErr("list events", err)
	}
	events, err := scanEvents(rows)
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

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	defer rows.Close()
	var events []event.Event
	for rows.Next() {
		var (
			globalSeq, streamSeq, recordedAt int64
			evt                              event.Event
			eventType                        string
			payloadJSON                      []byte
		)
		if err := rows.Scan(&globalSeq, &evt.ID, &evt.StreamID, &streamSeq, &eventType, &payloadJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.GlobalSeq = uint64(globalSeq)
		evt.StreamSeq = uint64(streamSeq)
		evt.Type = event.Type(eventType)
		evt.RecordedAt = fromMillis(recordedAt)
		payload, err := event.Decode(evt.Type, payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", evt.GlobalSeq, err)
		}
		evt.Payload = payload
		events = append(events, evt)
	}
	return events, rows.Err()
}
