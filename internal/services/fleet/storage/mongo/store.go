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

const (
	documentsCollection   = "read_model_documents"
	checkpointsCollection = "projection_checkpoints"
	statusCollection      = "projection_status"
)

// Config holds the connection settings.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Store is a MongoDB-backed projection store.
type Store struct {
	client      *mongo.Client
	documents   *mongo.Collection
	checkpoints *mongo.Collection
	statuses    *mongo.Collection
}

var _ storage.ProjectionStore = (*Store)(nil)

type documentRecord struct {
	ID        string    `bson:"_id"`
	Model     string    `bson:"model"`
	Key       string    `bson:"key"`
	Body      string    `bson:"body"`
	LastSeq   int64     `bson:"last_seq"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type checkpointRecord struct {
	Projection string    `bson:"_id"`
	LastSeq    int64     `bson:"last_seq"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type statusRecord struct {
	Projection string    `bson:"_id"`
	State      string    `bson:"state"`
	Attempts   int       `bson:"attempts"`
	LastError  string    `bson:"last_error"`
	FaultedSeq int64     `bson:"faulted_seq"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// Open connects, pings and ensures indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("mongo database is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.Timeout)
	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, storage.Transient("ping mongo", err)
	}

	if err := requireTransactions(connectCtx, client); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(cfg.Database)
	store := &Store{
		client:      client,
		documents:   db.Collection(documentsCollection),
		checkpoints: db.Collection(checkpointsCollection),
		statuses:    db.Collection(statusCollection),
	}
	if _, err := store.documents.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "model", Value: 1}, {Key: "key", Value: 1}},
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create document index: %w", err)
	}
	return store, nil
}

// requireTransactions rejects standalone servers, which cannot run the
// multi-document transactions projection batches are written in.
func requireTransactions(ctx context.Context, client *mongo.Client) error {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return wrapErr("mongo hello", err)
	}
	if !supportsTransactions(hello.SetName, hello.Msg) {
		return fmt.Errorf("mongo projection store requires a replica set or sharded cluster")
	}
	return nil
}

func supportsTransactions(setName, msg string) bool {
	return setName != "" || msg == "isdbgrid"
}

// Close disconnects the client. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.client == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func documentID(model, key string) string {
	return model + "/" + key
}

// GetDocument returns one document or storage.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, model, key string) (storage.Document, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Document{}, err
	}
	model, key, err := documentKey(model, key)
	if err != nil {
		return storage.Document{}, err
	}
	var record documentRecord
	err = s.documents.FindOne(ctx, bson.M{"_id": documentID(model, key)}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.Document{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Document{}, wrapErr("get document", err)
	}
	return record.toDocument(), nil
}

// PutDocument inserts or replaces a document.
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
	record := documentRecord{
		ID:        documentID(model, key),
		Model:     model,
		Key:       key,
		Body:      string(doc.Body),
		LastSeq:   int64(doc.LastSeq),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	_, err = s.documents.ReplaceOne(ctx, bson.M{"_id": record.ID}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return wrapErr("put document", err)
	}
	return nil
}

// DeleteDocument removes a document if it exists.
func (s *Store) DeleteDocument(ctx context.Context, model, key string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	model, key, err := documentKey(model, key)
	if err != nil {
		return err
	}
	if _, err := s.documents.DeleteOne(ctx, bson.M{"_id": documentID(model, key)}); err != nil {
		return wrapErr("delete document", err)
	}
	return nil
}

// ListDocuments returns a model's documents ordered by key.
func (s *Store) ListDocuments(ctx context.Context, model string) ([]storage.Document, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	cursor, err := s.documents.Find(ctx,
		bson.M{"model": model},
		options.Find().SetSort(bson.D{{Key: "key", Value: 1}}),
	)
	if err != nil {
		return nil, wrapErr("list documents", err)
	}
	defer cursor.Close(ctx)

	var records []documentRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, wrapErr("decode documents", err)
	}
	docs := make([]storage.Document, 0, len(records))
	for _, record := range records {
		docs = append(docs, record.toDocument())
	}
	return docs, nil
}

func (r documentRecord) toDocument() storage.Document {
	return storage.Document{
		Model:     r.Model,
		Key:       r.Key,
		Body:      []byte(r.Body),
		LastSeq:   uint64(r.LastSeq),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
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

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.HasErrorLabel("RetryableWriteError") || serverErr.HasErrorLabel("TransientTransactionError")
	}
	return false
}

// wrapErr marks retryable failures as transient and annotates the rest.
func wrapErr(message string, err error) error {
	if isTransientError(err) {
		return storage.Transient(message, err)
	}
	return fmt.Errorf("%s: %w", message, err)
}
