// Package sqlstore implements the docstore contract on top of gorm. Every
// collection shares the documents table; fields are kept as a JSON envelope.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/internal/models"
)

const defaultPollInterval = 2 * time.Second

var errStoreClosed = errors.New("sql store closed")

// Option customises a Store.
type Option func(*Store)

// WithPollInterval sets how often subscriptions re-run their query.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithLogger sets the logger used for background subscription work.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Store is a gorm backed document store. The schema must already be
// migrated, see database.Migrate.
type Store struct {
	db           *gorm.DB
	log          *zap.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
	closed  bool
}

var _ docstore.Store = (*Store)(nil)

// New wraps db.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	s := &Store{
		db:           db,
		log:          zap.NewNop(),
		pollInterval: defaultPollInterval,
		subs:         make(map[uint64]*subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Insert(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	op := docstore.InsertOp(collection, fields)
	op.ID = uuid.NewString()
	if err := s.Batch(ctx, []docstore.Op{op}); err != nil {
		return "", err
	}
	return op.ID, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := s.checkOpen(); err != nil {
		return docstore.Document{}, err
	}
	row, err := s.take(s.db.WithContext(ctx), collection, id)
	if err != nil {
		return docstore.Document{}, err
	}
	return toDocument(row)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	q, err := docstore.Validate(q)
	if err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Where("collection = ?", q.Collection)
	for _, f := range q.Filters {
		// String equality is pushed down; everything else is evaluated below.
		if value, ok := f.Value.(string); ok && f.Op == docstore.Equal {
			tx = tx.Where(datatypes.JSONQuery("fields").Equals(value, "values", f.Field))
		}
	}

	var rows []models.Document
	if err := tx.Find(&rows).Error; err != nil {
		return nil, docstore.Unavailable("query "+q.Collection, err)
	}

	docs := make([]docstore.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := toDocument(row)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docstore.Apply(docs, q), nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	return s.Batch(ctx, []docstore.Op{docstore.UpdateOp(collection, id, fields)})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.Batch(ctx, []docstore.Op{docstore.DeleteOp(collection, id)})
}

// Batch applies ops inside one database transaction. Updates are guarded by
// the row version so a concurrent writer makes the batch fail instead of
// being overwritten.
func (s *Store) Batch(ctx context.Context, ops []docstore.Op) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	touched := make(map[string]struct{}, len(ops))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if err := s.apply(tx, op); err != nil {
				return err
			}
			touched[op.Collection] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return docstore.Unavailable("batch", err)
	}

	collections := make([]string, 0, len(touched))
	for collection := range touched {
		collections = append(collections, collection)
	}
	s.notify(collections...)
	return nil
}

func (s *Store) apply(tx *gorm.DB, op docstore.Op) error {
	fields, err := docstore.Normalize(op.Fields)
	if err != nil {
		return err
	}

	switch op.Kind {
	case docstore.OpInsert:
		payload, err := encodeFields(fields)
		if err != nil {
			return err
		}
		row := models.Document{
			BaseModel:  models.BaseModel{ID: op.ID},
			Collection: op.Collection,
			Fields:     payload,
			Version:    1,
		}
		return tx.Create(&row).Error

	case docstore.OpUpdate:
		preconditions, err := docstore.NormalizeFilters(op.Preconditions)
		if err != nil {
			return err
		}
		row, err := s.take(tx, op.Collection, op.ID)
		if errors.Is(err, docstore.ErrNotFound) && len(preconditions) > 0 {
			return docstore.ErrPreconditionFailed
		}
		if err != nil {
			return err
		}
		current, err := decodeFields(row.Fields)
		if err != nil {
			return err
		}
		if !docstore.Matches(current, preconditions) {
			return docstore.ErrPreconditionFailed
		}
		for key, value := range fields {
			current[key] = value
		}
		payload, err := encodeFields(current)
		if err != nil {
			return err
		}
		result := tx.Model(&models.Document{}).
			Where("collection = ? AND id = ? AND version = ?", op.Collection, op.ID, row.Version).
			Updates(map[string]any{
				"fields":  payload,
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return docstore.ErrPreconditionFailed
		}
		return nil

	case docstore.OpDelete:
		return tx.Where("collection = ? AND id = ?", op.Collection, op.ID).Delete(&models.Document{}).Error

	default:
		return fmt.Errorf("sqlstore: unknown op kind %d", op.Kind)
	}
}

func (s *Store) take(tx *gorm.DB, collection, id string) (models.Document, error) {
	var row models.Document
	err := tx.Where("collection = ? AND id = ?", collection, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return models.Document{}, docstore.Unavailable("get "+collection, err)
	}
	return row, nil
}

// Close stops every subscription. The gorm handle is owned by the caller.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[uint64]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.Unavailable("sqlstore", errStoreClosed)
	}
	return nil
}

func toDocument(row models.Document) (docstore.Document, error) {
	fields, err := decodeFields(row.Fields)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("sqlstore: document %s: %w", row.ID, err)
	}
	return docstore.Document{ID: row.ID, Fields: fields}, nil
}
