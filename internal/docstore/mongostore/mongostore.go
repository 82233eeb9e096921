// Package mongostore implements the docstore contract on MongoDB. Batches use
// multi-document transactions and subscriptions use change streams, so the
// server must run as a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/internal/docstore"
)

// Config describes the MongoDB connection.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store is a MongoDB backed document store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
	owned  bool

	mu     sync.Mutex
	cancel map[uint64]context.CancelFunc
	nextID uint64
	closed bool
}

var _ docstore.Store = (*Store)(nil)

// Open connects to MongoDB and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongostore: uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongostore: database is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout))
	if err != nil {
		return nil, docstore.Unavailable("connect", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, docstore.Unavailable("ping", err)
	}

	store := New(client, cfg.Database, log)
	store.owned = true
	return store, nil
}

// New wraps an existing client. Close does not disconnect it.
func New(client *mongo.Client, database string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		client: client,
		db:     client.Database(database),
		log:    log,
		cancel: make(map[uint64]context.CancelFunc),
	}
}

func (s *Store) Insert(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	normalized, err := docstore.Normalize(fields)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	doc := toBSON(normalized)
	doc["_id"] = id
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", docstore.Unavailable("insert "+collection, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, docstore.Unavailable("get "+collection, err)
	}
	return fromBSON(raw)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	q, err := docstore.Validate(q)
	if err != nil {
		return nil, err
	}
	filter, err := buildFilter("", q.Filters)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(buildSort(q.OrderBy))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, docstore.Unavailable("query "+q.Collection, err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, docstore.Unavailable("query "+q.Collection, err)
	}

	docs := make([]docstore.Document, 0, len(raws))
	for _, raw := range raws {
		doc, err := fromBSON(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	normalized, err := docstore.Normalize(fields)
	if err != nil {
		return err
	}
	return s.update(ctx, collection, id, normalized, nil)
}

func (s *Store) update(ctx context.Context, collection, id string, fields docstore.Fields, preconditions []docstore.Filter) error {
	filter, err := buildFilter(id, preconditions)
	if err != nil {
		return err
	}
	result, err := s.db.Collection(collection).UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: toBSON(fields)}})
	if err != nil {
		return docstore.Unavailable("update "+collection, err)
	}
	if result.MatchedCount == 0 {
		if len(preconditions) > 0 {
			return docstore.ErrPreconditionFailed
		}
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return docstore.Unavailable("delete "+collection, err)
	}
	return nil
}

// Batch runs ops inside a multi-document transaction.
func (s *Store) Batch(ctx context.Context, ops []docstore.Op) error {
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
		if op.Kind == docstore.OpInsert && op.ID == "" {
			op.ID = uuid.NewString()
		}
		op.Fields = fields
		op.Preconditions = preconditions
		prepared[i] = op
	}

	session, err := s.client.StartSession()
	if err != nil {
		return docstore.Unavailable("start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, op := range prepared {
			switch op.Kind {
			case docstore.OpInsert:
				doc := toBSON(op.Fields)
				doc["_id"] = op.ID
				if _, err := s.db.Collection(op.Collection).InsertOne(sc, doc); err != nil {
					return nil, err
				}
			case docstore.OpUpdate:
				if err := s.update(sc, op.Collection, op.ID, op.Fields, op.Preconditions); err != nil {
					return nil, err
				}
			case docstore.OpDelete:
				if _, err := s.db.Collection(op.Collection).DeleteOne(sc, bson.D{{Key: "_id", Value: op.ID}}); err != nil {
					return nil, err
				}
			default:
				return nil, fmt.Errorf("mongostore: unknown op kind %d", op.Kind)
			}
		}
		return nil, nil
	})
	if err != nil {
		return docstore.Unavailable("batch", err)
	}
	return nil
}

// Subscribe delivers the current result set and re-runs q after every change
// stream event on the collection.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onChange docstore.ChangeFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	q, err := docstore.Validate(q)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	stream, err := s.db.Collection(q.Collection).Watch(subCtx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, docstore.Unavailable("watch "+q.Collection, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = stream.Close(context.Background())
		return nil, docstore.Unavailable("subscribe", errors.New("mongo store closed"))
	}
	id := s.nextID
	s.nextID++
	s.cancel[id] = cancel
	s.mu.Unlock()

	go s.watch(subCtx, stream, q, onChange, onError)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			delete(s.cancel, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *Store) watch(ctx context.Context, stream *mongo.ChangeStream, q docstore.Query, onChange docstore.ChangeFunc, onError docstore.ErrorFunc) {
	defer stream.Close(context.Background())

	deliver := func() bool {
		docs, err := s.Query(ctx, q)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			s.fail(q, err, onError)
			return false
		}
		if onChange != nil {
			onChange(docs)
		}
		return true
	}

	if !deliver() {
		return
	}
	for stream.Next(ctx) {
		if !deliver() {
			return
		}
	}
	if ctx.Err() == nil {
		err := stream.Err()
		if err == nil {
			err = errors.New("change stream closed")
		}
		s.fail(q, docstore.Unavailable("watch "+q.Collection, err), onError)
	}
}

func (s *Store) fail(q docstore.Query, err error, onError docstore.ErrorFunc) {
	s.log.Warn("change stream failed",
		zap.String("collection", q.Collection),
		zap.Error(err),
	)
	if onError != nil {
		onError(err)
	}
}

// Close cancels every subscription and disconnects clients opened by Open.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := s.cancel
	s.cancel = make(map[uint64]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if s.owned {
		return s.client.Disconnect(ctx)
	}
	return nil
}
