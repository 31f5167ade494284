package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GetCheckpoint returns the checkpoint, zero when none was saved.
func (s *Store) GetCheckpoint(ctx context.Context, projection string) (storage.Checkpoint, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Checkpoint{}, err
	}
	projection = strings.TrimSpace(projection)
	if projection == "" {
		return storage.Checkpoint{}, fmt.Errorf("projection is required")
	}
	var record checkpointRecord
	err := s.checkpoints.FindOne(ctx, bson.M{"_id": projection}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.Checkpoint{Projection: projection}, nil
	}
	if err != nil {
		return storage.Checkpoint{}, wrapErr("get checkpoint", err)
	}
	return storage.Checkpoint{
		Projection: projection,
		LastSeq:    uint64(record.LastSeq),
		UpdatedAt:  record.UpdatedAt.UTC(),
	}, nil
}

// WithinProjectionTx runs fn in a session transaction, so a batch whose
// checkpoint compare-and-set fails leaves no documents behind.
func (s *Store) WithinProjectionTx(ctx context.Context, fn func(context.Context, storage.ProjectionTx) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("projection batch is required")
	}
	return s.withTransaction(ctx, "projection batch", func(sc mongo.SessionContext) error {
		return fn(sc, projectionTx{Store: s})
	})
}

// withTransaction runs fn in a transaction; the driver retries it on
// TransientTransactionError labels.
func (s *Store) withTransaction(ctx context.Context, message string, fn func(mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return wrapErr("start session", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && !storage.IsTransient(err) && isTransientError(err) {
		return storage.Transient(message, err)
	}
	return err
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
	update := bson.M{"$set": bson.M{"last_seq": int64(next), "updated_at": time.Now().UTC()}}
	filter := bson.M{"_id": projection, "last_seq": int64(expected)}

	// From zero the row may not exist yet; an upsert that collides with a
	// moved row fails on the _id index.
	opts := options.Update().SetUpsert(expected == 0)
	res, err := tx.checkpoints.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrCheckpointConflict
		}
		return wrapErr("save checkpoint", err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return storage.ErrCheckpointConflict
	}
	return nil
}

// ResetProjection deletes models' documents and zeroes the checkpoint in one
// transaction. A batch started before the reset fails its checkpoint
// compare-and-set and rolls back its documents.
func (s *Store) ResetProjection(ctx context.Context, projection string, models []string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	projection = strings.TrimSpace(projection)
	if projection == "" {
		return fmt.Errorf("projection is required")
	}
	return s.withTransaction(ctx, "reset projection", func(sc mongo.SessionContext) error {
		if len(models) > 0 {
			if _, err := s.documents.DeleteMany(sc, bson.M{"model": bson.M{"$in": models}}); err != nil {
				return wrapErr("delete documents", err)
			}
		}
		_, err := s.checkpoints.UpdateOne(sc,
			bson.M{"_id": projection},
			bson.M{"$set": bson.M{"last_seq": int64(0), "updated_at": time.Now().UTC()}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return wrapErr("reset checkpoint", err)
		}
		return nil
	})
}

// SaveProjectionStatus upserts a runner status.
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
	record := statusRecord{
		Projection: status.Projection,
		State:      status.State,
		Attempts:   status.Attempts,
		LastError:  status.LastError,
		FaultedSeq: int64(status.FaultedSeq),
		UpdatedAt:  status.UpdatedAt.UTC(),
	}
	if _, err := s.statuses.ReplaceOne(ctx, bson.M{"_id": record.Projection}, record, options.Replace().SetUpsert(true)); err != nil {
		return wrapErr("save projection status", err)
	}
	return nil
}

// ListProjectionStatuses returns statuses ordered by projection.
func (s *Store) ListProjectionStatuses(ctx context.Context) ([]storage.ProjectionStatus, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	cursor, err := s.statuses.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrapErr("list projection statuses", err)
	}
	defer cursor.Close(ctx)

	var records []statusRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, wrapErr("decode projection statuses", err)
	}
	statuses := make([]storage.ProjectionStatus, 0, len(records))
	for _, r := range records {
		statuses = append(statuses, storage.ProjectionStatus{
			Projection: r.Projection,
			State:      r.State,
			Attempts:   r.Attempts,
			LastError:  r.LastError,
			FaultedSeq: uint64(r.FaultedSeq),
			UpdatedAt:  r.UpdatedAt.UTC(),
		})
	}
	return statuses, nil
}
