package docstore

import (
	"context"
	"time"

	"github.com/charlesng35/lensfusion/pkg/metrics"
)

type instrumented struct {
	next Store
}

// Instrument records the latency of every store call in the
// lensfusion_store_latency_seconds histogram.
func Instrument(s Store) Store {
	if s == nil {
		return nil
	}
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{next: s}
}

func observe(operation string, started time.Time) {
	metrics.StoreLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (i *instrumented) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	defer observe("insert", time.Now())
	return i.next.Insert(ctx, collection, fields)
}

func (i *instrumented) Get(ctx context.Context, collection, id string) (Document, error) {
	defer observe("get", time.Now())
	return i.next.Get(ctx, collection, id)
}

func (i *instrumented) Query(ctx context.Context, q Query) ([]Document, error) {
	defer observe("query", time.Now())
	return i.next.Query(ctx, q)
}

func (i *instrumented) Update(ctx context.Context, collection, id string, fields Fields) error {
	defer observe("update", time.Now())
	return i.next.Update(ctx, collection, id, fields)
}

func (i *instrumented) Delete(ctx context.Context, collection, id string) error {
	defer observe("delete", time.Now())
	return i.next.Delete(ctx, collection, id)
}

func (i *instrumented) Batch(ctx context.Context, ops []Op) error {
	defer observe("batch", time.Now())
	return i.next.Batch(ctx, ops)
}

func (i *instrumented) Subscribe(ctx context.Context, q Query, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error) {
	defer observe("subscribe", time.Now())
	return i.next.Subscribe(ctx, q, onChange, onError)
}

func (i *instrumented) Close(ctx context.Context) error {
	return i.next.Close(ctx)
}
