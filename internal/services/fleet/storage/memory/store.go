// Package memory implements a process-local projection store. The integrity
// check replays the journal into it; tests use it where durability is noise.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

type docKey struct {
	model string
	key   string
}

type state struct {
	docs        map[docKey]storage.Document
	checkpoints map[string]storage.Checkpoint
}

func (s state) clone() state {
	return state{docs: maps.Clone(s.docs), checkpoints: maps.Clone(s.checkpoints)}
}

// Store is a transactional in-memory projection store. A batch works on a
// copy of the state that replaces it on success.
type Store struct {
	mu       sync.Mutex
	state    state
	statuses map[string]storage.ProjectionStatus
}

var _ storage.ProjectionStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		state: state{
			docs:        make(map[docKey]storage.Document),
			checkpoints: make(map[string]storage.Checkpoint),
		},
		statuses: make(map[string]storage.ProjectionStatus),
	}
}

// GetDocument returns a document or storage.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, model, key string) (storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return storage.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return getDocument(s.state, model, key)
}

// PutDocument inserts or replaces a document.
func (s *Store) PutDocument(ctx context.Context, doc storage.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return putDocument(s.state, doc)
}

// DeleteDocument removes a document if present.
func (s *Store) DeleteDocument(ctx context.Context, model, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.docs, docKey{model: strings.TrimSpace(model), key: strings.TrimSpace(key)})
	return nil
}

// ListDocuments returns a model's documents ordered by key.
func (s *Store) ListDocuments(ctx context.Context, model string) ([]storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []storage.Document
	for key, doc := range s.state.docs {
		if key.model == model {
			docs = append(docs, copyDocument(doc))
		}
	}
	slices.SortFunc(docs, func(a, b storage.Document) int { return strings.Compare(a.Key, b.Key) })
	return docs, nil
}

// GetCheckpoint returns the checkpoint, zero when none was saved.
func (s *Store) GetCheckpoint(ctx context.Context, projection string) (storage.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return storage.Checkpoint{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if checkpoint, ok := s.state.checkpoints[projection]; ok {
		return checkpoint, nil
	}
	return storage.Checkpoint{Projection: projection}, nil
}

// WithinProjectionTx runs fn against a private copy of the state and
// publishes the copy when fn succeeds. The store is locked for the batch, so
// fn must only use the tx it is handed.
func (s *Store) WithinProjectionTx(ctx context.Context, fn func(context.Context, storage.ProjectionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("projection batch is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &projectionTx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// ResetProjection deletes models' documents and zeroes the checkpoint.
func (s *Store) ResetProjection(ctx context.Context, projection string, models []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.state.docs {
		if slices.Contains(models, key.model) {
			delete(s.state.docs, key)
		}
	}
	s.state.checkpoints[projection] = storage.Checkpoint{Projection: projection, UpdatedAt: time.Now().UTC()}
	return nil
}

// SaveProjectionStatus upserts a runner status.
func (s *Store) SaveProjectionStatus(ctx context.Context, status storage.ProjectionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(status.Projection) == "" {
		return fmt.Errorf("projection is required")
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.Projection] = status
	return nil
}

// ListProjectionStatuses returns statuses ordered by projection.
func (s *Store) ListProjectionStatuses(ctx context.Context) ([]storage.ProjectionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names := slices.Sorted(maps.Keys(s.statuses))
	statuses := make([]storage.ProjectionStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, s.statuses[name])
	}
	return statuses, nil
}

type projectionTx struct {
	state state
}

func (tx *projectionTx) GetDocument(ctx context.Context, model, key string) (storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return storage.Document{}, err
	}
	return getDocument(tx.state, model, key)
}

func (tx *projectionTx) PutDocument(ctx context.Context, doc storage.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return putDocument(tx.state, doc)
}

func (tx *projectionTx) DeleteDocument(ctx context.Context, model, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(tx.state.docs, docKey{model: strings.TrimSpace(model), key: strings.TrimSpace(key)})
	return nil
}

func (tx *projectionTx) SaveCheckpoint(ctx context.Context, projection string, expected, next uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(projection) == "" {
		return fmt.Errorf("projection is required")
	}
	if tx.state.checkpoints[projection].LastSeq != expected {
		return storage.ErrCheckpointConflict
	}
	tx.state.checkpoints[projection] = storage.Checkpoint{
		Projection: projection,
		LastSeq:    next,
		UpdatedAt:  time.Now().UTC(),
	}
	return nil
}

func getDocument(st state, model, key string) (storage.Document, error) {
	doc, ok := st.docs[docKey{model: strings.TrimSpace(model), key: strings.TrimSpace(key)}]
	if !ok {
		return storage.Document{}, storage.ErrNotFound
	}
	return copyDocument(doc), nil
}

func putDocument(st state, doc storage.Document) error {
	doc.Model = strings.TrimSpace(doc.Model)
	doc.Key = strings.TrimSpace(doc.Key)
	if doc.Model == "" || doc.Key == "" {
		return fmt.Errorf("model and document key are required")
	}
	if len(doc.Body) == 0 {
		return fmt.Errorf("document body is required")
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	st.docs[docKey{model: doc.Model, key: doc.Key}] = copyDocument(doc)
	return nil
}

func copyDocument(doc storage.Document) storage.Document {
	doc.Body = slices.Clone(doc.Body)
	return doc
}
