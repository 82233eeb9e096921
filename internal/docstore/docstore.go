// Package docstore defines the document database contract consumed by the
// session registry, together with the query evaluation shared by its backends.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrPreconditionFailed is returned when a batch update precondition does not hold.
	ErrPreconditionFailed = errors.New("docstore: precondition failed")
	// ErrUnavailable wraps transport and backend failures.
	ErrUnavailable = errors.New("docstore: store unavailable")
	// ErrInvalidValue is returned for field values outside the supported scalar set.
	ErrInvalidValue = errors.New("docstore: unsupported field value")
)

// Unavailable wraps a backend failure so that callers can match ErrUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrInvalidValue) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Fields holds the scalar values of one document. Supported values are string,
// bool, int64, float64, time.Time and nil.
type Fields map[string]any

// Clone returns a shallow copy; values are immutable scalars.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Document is a stored record.
type Document struct {
	ID     string
	Fields Fields
}

// String returns the string value of key or "".
func (d Document) String(key string) string {
	v, _ := d.Fields[key].(string)
	return v
}

// Time returns the time value of key or the zero time.
func (d Document) Time(key string) time.Time {
	v, _ := d.Fields[key].(time.Time)
	return v
}

// Bool returns the bool value of key.
func (d Document) Bool(key string) bool {
	v, _ := d.Fields[key].(bool)
	return v
}

// Int returns the int64 value of key.
func (d Document) Int(key string) int64 {
	v, _ := d.Fields[key].(int64)
	return v
}

// Operator is a comparison applied by a Filter.
type Operator string

const (
	Equal          Operator = "=="
	NotEqual       Operator = "!="
	Less           Operator = "<"
	LessOrEqual    Operator = "<="
	Greater        Operator = ">"
	GreaterOrEqual Operator = ">="
)

// Filter restricts a query or precondition to documents whose field compares
// to Value with Op.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Where builds a Filter.
func Where(field string, op Operator, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Order sorts query results by Field.
type Order struct {
	Field      string
	Descending bool
}

// Query selects documents from a collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []Order
	Limit      int
}

// OpKind discriminates batch operations.
type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

// Op is one write inside a Batch. Inserts with an empty ID get a generated one.
// Preconditions only apply to updates and are evaluated against the stored
// document inside the batch.
type Op struct {
	Kind          OpKind
	Collection    string
	ID            string
	Fields        Fields
	Preconditions []Filter
}

// InsertOp appends a new document.
func InsertOp(collection string, fields Fields) Op {
	return Op{Kind: OpInsert, Collection: collection, Fields: fields}
}

// UpdateOp merges fields into an existing document when every precondition holds.
func UpdateOp(collection, id string, fields Fields, preconditions ...Filter) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields, Preconditions: preconditions}
}

// DeleteOp removes a document. Deleting an absent document is not an error.
func DeleteOp(collection, id string) Op {
	return Op{Kind: OpDelete, Collection: collection, ID: id}
}

// Unsubscribe releases a subscription. It is safe to call more than once.
type Unsubscribe func()

// ChangeFunc receives the full result set of a subscribed query.
type ChangeFunc func(docs []Document)

// ErrorFunc receives subscription failures. The subscription stops after an error.
type ErrorFunc func(err error)

// Store is the document database contract.
type Store interface {
	Insert(ctx context.Context, collection string, fields Fields) (string, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	// Batch applies every op or none of them.
	Batch(ctx context.Context, ops []Op) error
	// Subscribe delivers the current result set of q and then a fresh one
	// whenever it may have changed.
	Subscribe(ctx context.Context, q Query, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error)
	Close(ctx context.Context) error
}
