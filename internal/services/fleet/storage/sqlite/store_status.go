package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// SaveProjectionStatus upserts the runner status of a projection.
func (s *Store) SaveProjectionStatus(ctx context.Context, status storage.ProjectionStatus) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	status.Projection = strings.TrimSpace(status.Projection)
	if status.Projection == "" {
		return fmt.Errorf("projection is required")
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO projection_status (projection, state, attempts, last_error, faulted_seq, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (projection) DO UPDATE SET
		     state = excluded.state,
		     attempts = excluded.attempts,
		     last_error = excluded.last_error,
		     faulted_seq = excluded.faulted_seq,
		     updated_at = excluded.updated_at`,
		status.Projection,
		status.State,
		status.Attempts,
		status.LastError,
		int64(status.FaultedSeq),
		toMillis(status.UpdatedAt),
	)
	if err != nil {
		return wrapErr("save projection status", err)
	}
	return nil
}

// ListProjectionStatuses returns all statuses ordered by projection.
func (s *Store) ListProjectionStatuses(ctx context.Context) ([]storage.ProjectionStatus, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT projection, state, attempts, last_error, faulted_seq, updated_at FROM projection_status ORDER BY projection`,
	)
	if err != nil {
		return nil, wrapErr("list projection statuses", err)
	}
	defer rows.Close()

	var statuses []storage.ProjectionStatus
	for rows.Next() {
		var (
			status     storage.ProjectionStatus
			faultedSeq int64
			updatedAt  int64
		)
		if err := rows.Scan(&status.Projection, &status.State, &status.Attempts, &status.LastError, &faultedSeq, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan projection status: %w", err)
		}
		status.FaultedSeq = uint64(faultedSeq)
		status.UpdatedAt = fromMillis(updatedAt)
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list projection statuses", err)
	}
	return statuses, nil
}
