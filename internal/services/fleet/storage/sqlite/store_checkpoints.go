package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// GetCheckpoint returns a projection checkpoint; a projection that never
// committed a batch reports zero.
func (s *Store) GetCheckpoint(ctx context.Context, projection string) (storage.Checkpoint, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Checkpoint{}, err
	}
	projection = strings.TrimSpace(projection)
	if projection == "" {
		return storage.Checkpoint{}, fmt.Errorf("projection is required")
	}

	var lastSeq, updatedAt int64
	err := s.q.QueryRowContext(ctx,
		`SELECT last_seq, updated_at FROM projection_checkpoints WHERE projection = ?`,
		projection,
	).Scan(&lastSeq, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Checkpoint{Projection: projection}, nil
	}
	if err != nil {
		return storage.Checkpoint{}, wrapErr("get checkpoint", err)
	}
	return storage.Checkpoint{
		Projection: projection,
		LastSeq:    uint64(lastSeq),
		UpdatedAt:  fromMillis(updatedAt),
	}, nil
}

// WithinProjectionTx runs fn in one transaction so documents and the
// checkpoint commit together.
func (s *Store) WithinProjectionTx(ctx context.Context, fn func(context.Context, storage.ProjectionTx) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("projection batch is required")
	}
	return s.inTx(ctx, "projection batch", func(tx *Store) error {
		return fn(ctx, projectionTx{Store: tx})
	})
}

type projectionTx struct {
	*Store
}

// SaveCheckpoint moves the checkpoint from expected to next.
func (tx projectionTx) SaveCheckpoint(ctx context.Context, projection string, expected, next uint64) error {
	if err := tx.ready(ctx); err != nil {
		return err
	}
	projection = strings.TrimSpace(projection)
	if projection == "" {
		return fmt.Errorf("projection is required")
	}
	now := toMillis(time.Now().UTC())

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = tx.q.ExecContext(ctx,
			`INSERT INTO projection_checkpoints (projection, last_seq, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (projection) DO UPDATE SET
			     last_seq = excluded.last_seq,
			     updated_at = excluded.updated_at
			 WHERE projection_checkpoints.last_seq = 0`,
			projection, int64(next), now,
		)
	} else {
		res, err = tx.q.ExecContext(ctx,
			`UPDATE projection_checkpoints SET last_seq = ?, updated_at = ? WHERE projection = ? AND last_seq = ?`,
			int64(next), now, projection, int64(expected),
		)
	}
	if err != nil {
		return wrapErr("save checkpoint", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save checkpoint rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrCheckpointConflict
	}
	return nil
}

// ResetProjection deletes the documents of models and zeroes the checkpoint
// in one transaction.
func (s *Store) ResetProjection(ctx context.Context, projection string, models []string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	projection = strings.TrimSpace(projection)
	if projection == "" {
		return fmt.Errorf("projection is required")
	}

	return s.inTx(ctx, "reset projection", func(tx *Store) error {
		for _, model := range models {
			if _, err := tx.q.ExecContext(ctx, `DELETE FROM read_model_documents WHERE model = ?`, model); err != nil {
				return fmt.Errorf("delete %s documents: %w", model, err)
			}
		}
		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO projection_checkpoints (projection, last_seq, updated_at)
			 VALUES (?, 0, ?)
			 ON CONFLICT (projection) DO UPDATE SET
			     last_seq = 0,
			     updated_at = excluded.updated_at`,
			projection, toMillis(time.Now().UTC()),
		); err != nil {
			return fmt.Errorf("reset checkpoint: %w", err)
		}
		return nil
	})
}
