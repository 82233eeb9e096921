package sessions

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/pkg/metrics"
)

// sweep deletes up to one batch of expired rows of userID. Terminated rows
// carry expires_at <= termination time, so they are collected too.
func (r *Registry) sweep(ctx context.Context, userID string, now time.Time) (int, error) {
	return r.deleteExpired(ctx, []docstore.Filter{
		docstore.Where(fieldUserID, docstore.Equal, userID),
		docstore.Where(fieldExpiresAt, docstore.LessOrEqual, now),
	}, r.sweepBatch, "create")
}

// PurgeExpired deletes up to limit expired rows across all users. It is the
// administrative backstop run by the maintenance scheduler.
func (r *Registry) PurgeExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = r.sweepBatch
	}
	removed, err := r.deleteExpired(ctx, []docstore.Filter{
		docstore.Where(fieldExpiresAt, docstore.LessOrEqual, r.now()),
	}, limit, "purge")
	if err != nil {
		return 0, unavailable("purge_expired", err)
	}
	if removed > 0 {
		r.log.Info("purged expired sessions", zap.Int("count", removed))
	}
	return removed, nil
}

func (r *Registry) deleteExpired(ctx context.Context, filters []docstore.Filter, limit int, source string) (int, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: SessionsCollection,
		Filters:    filters,
		OrderBy:    []docstore.Order{{Field: fieldExpiresAt}},
		Limit:      limit,
	})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ops := make([]docstore.Op, 0, len(docs))
	users := make(map[string]struct{}, 1)
	for _, doc := range docs {
		ops = append(ops, docstore.DeleteOp(SessionsCollection, doc.ID))
		users[doc.String(fieldUserID)] = struct{}{}
	}
	if err := r.store.Batch(ctx, ops); err != nil {
		return 0, err
	}

	for userID := range users {
		r.cache.invalidate(userID)
	}
	metrics.SweepDeleted.WithLabelValues(source).Add(float64(len(ops)))
	return len(ops), nil
}
