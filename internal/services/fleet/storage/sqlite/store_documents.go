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

// GetDocument returns one read-model document, or storage.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, model, key string) (storage.Document, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Document{}, err
	}
	model, key, err := documentKey(model, key)
	if err != nil {
		return storage.Document{}, err
	}

	row := s.q.QueryRowContext(ctx,
		`SELECT model, doc_key, body_json, last_seq, updated_at FROM read_model_documents WHERE model = ? AND doc_key = ?`,
		model, key,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Document{}, wrapErr("get document", err)
	}
	return doc, nil
}

// PutDocument inserts or replaces a read-model document.
func (s *Store) PutDocument(ctx context.Context, doc storage.Document) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	model, key, err := documentKey(doc.Model, doc.Key)
	if err != nil {
		return err
	}
	if len(doc.Body) == 0 {
		return fmt.Errorf("document body is required")
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO read_model_documents (model, doc_key, body_json, last_seq, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (model, doc_key) DO UPDATE SET
		     body_json = excluded.body_json,
		     last_seq = excluded.last_seq,
		     updated_at = excluded.updated_at`,
		model, key, []byte(doc.Body), int64(doc.LastSeq), toMillis(doc.UpdatedAt),
	)
	if err != nil {
		return wrapErr("put document", err)
	}
	return nil
}

// DeleteDocument removes a read-model document if it exists.
func (s *Store) DeleteDocument(ctx context.Context, model, key string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	model, key, err := documentKey(model, key)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM read_model_documents WHERE model = ? AND doc_key = ?`,
		model, key,
	); err != nil {
		return wrapErr("delete document", err)
	}
	return nil
}

// ListDocuments returns a model's documents ordered by key.
func (s *Store) ListDocuments(ctx context.Context, model string) ([]storage.Document, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT model, doc_key, body_json, last_seq, updated_at FROM read_model_documents WHERE model = ? ORDER BY doc_key`,
		model,
	)
	if err != nil {
		return nil, wrapErr("list documents", err)
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list documents", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (storage.Document, error) {
	var (
		doc       storage.Document
		body      []byte
		lastSeq   int64
		updatedAt int64
	)
	if err := row.Scan(&doc.Model, &doc.Key, &body, &lastSeq, &updatedAt); err != nil {
		return storage.Document{}, err
	}
	doc.Body = body
	doc.LastSeq = uint64(lastSeq)
	doc.UpdatedAt = fromMillis(updatedAt)
	return doc, nil
}

func documentKey(model, key string) (string, string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", "", fmt.Errorf("model is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("document key is required")
	}
	return model, key, nil
}
