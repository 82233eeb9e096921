// Package memory is an in-process docstore backend. Subscribers receive a
// fresh snapshot after every committed write.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/charlesng35/lensfusion/internal/docstore"
)

// Option customises a Store.
type Option func(*Store)

// WithIDGenerator overrides the uuid based id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Store keeps documents in maps guarded by a mutex.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]docstore.Fields
	subs        map[uint64]*subscription
	nextSub     uint64
	closed      bool
	newID       func() string
}

var _ docstore.Store = (*Store)(nil)

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]docstore.Fields),
		subs:        make(map[uint64]*subscription),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Insert(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized, err := docstore.Normalize(fields)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errClosed
	}
	id := s.newID()
	s.collection(collection)[id] = normalized
	s.mu.Unlock()

	s.notify(collection)
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.Document{}, errClosed
	}
	fields, ok := s.collections[collection][id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Fields: fields.Clone()}, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := docstore.Validate(q)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errClosed
	}
	docs := make([]docstore.Document, 0, len(s.collections[q.Collection]))
	for id, fields := range s.collections[q.Collection] {
		docs = append(docs, docstore.Document{ID: id, Fields: fields.Clone()})
	}
	s.mu.RUnlock()

	return docstore.Apply(docs, q), nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	return s.Batch(ctx, []docstore.Op{docstore.UpdateOp(collection, id, fields)})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.Batch(ctx, []docstore.Op{docstore.DeleteOp(collection, id)})
}

// Batch validates every op against the current state before applying any of them.
func (s *Store) Batch(ctx context.Context, ops []docstore.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	prepared := make([]docstore.Op, len(ops))
	for i, op := range ops {
		fields, err := docstore.Normalize(op.Fields)
		if err != nil {
			return err
		}
		preconditions, err := docstore.NormalizeFilters(op.Preconditions)
		if err != nil {
			return err
		}
		prepared[i] = docstore.Op{
			Kind:          op.Kind,
			Collection:    op.Collection,
			ID:            op.ID,
			Fields:        fields,
			Preconditions: preconditions,
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}

	// Stage writes on copies so a failing op leaves the store untouched.
	staged := make(map[string]map[string]docstore.Fields)
	lookup := func(collection, id string) (docstore.Fields, bool) {
		if docs, ok := staged[collection]; ok {
			if fields, ok := docs[id]; ok {
				return fields, fields != nil
			}
		}
		fields, ok := s.collections[collection][id]
		return fields, ok
	}
	stage := func(collection, id string, fields docstore.Fields) {
		if staged[collection] == nil {
			staged[collection] = make(map[string]docstore.Fields)
		}
		staged[collection][id] = fields
	}

	for _, op := range prepared {
		switch op.Kind {
		case docstore.OpInsert:
			id := op.ID
			if id == "" {
				id = s.newID()
			}
			if _, exists := lookup(op.Collection, id); exists {
				s.mu.Unlock()
				return fmt.Errorf("memory: insert %s/%s: %w", op.Collection, id, docstore.ErrPreconditionFailed)
			}
			stage(op.Collection, id, op.Fields)
		case docstore.OpUpdate:
			current, exists := lookup(op.Collection, op.ID)
			if !exists {
				s.mu.Unlock()
				if len(op.Preconditions) > 0 {
					return docstore.ErrPreconditionFailed
				}
				return docstore.ErrNotFound
			}
			if !docstore.Matches(current, op.Preconditions) {
				s.mu.Unlock()
				return docstore.ErrPreconditionFailed
			}
			merged := current.Clone()
			for key, value := range op.Fields {
				merged[key] = value
			}
			stage(op.Collection, op.ID, merged)
		case docstore.OpDelete:
			stage(op.Collection, op.ID, nil)
		default:
			s.mu.Unlock()
			return fmt.Errorf("memory: unknown op kind %d", op.Kind)
		}
	}

	touched := make([]string, 0, len(staged))
	for collection, docs := range staged {
		target := s.collection(collection)
		for id, fields := range docs {
			if fields == nil {
				delete(target, id)
				continue
			}
			target[id] = fields
		}
		touched = append(touched, collection)
	}
	s.mu.Unlock()

	s.notify(touched...)
	return nil
}

// Close stops all subscriptions. Further calls fail with ErrUnavailable.
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

// collection returns the map for name, creating it. Callers hold s.mu.
func (s *Store) collection(name string) map[string]docstore.Fields {
	docs, ok := s.collections[name]
	if !ok {
		docs = make(map[string]docstore.Fields)
		s.collections[name] = docs
	}
	return docs
}

var errClosed = fmt.Errorf("%w: memory store closed", docstore.ErrUnavailable)
