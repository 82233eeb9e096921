package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/lensfusion/internal/database/testutil"
	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/internal/models"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := New(db, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestNewRequiresDB(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestFieldKindsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2026, 5, 1, 10, 30, 0, 123456789, time.UTC)

	id, err := store.Insert(ctx, "sessions", docstore.Fields{
		"user_id":       "u1",
		"revoked":       false,
		"count":         int64(1) << 40,
		"ratio":         0.25,
		"expires_at":    at,
		"terminated_at": nil,
	})
	require.NoError(t, err)

	doc, err := store.Get(ctx, "sessions", id)
	require.NoError(t, err)
	require.Equal(t, "u1", doc.String("user_id"))
	require.False(t, doc.Bool("revoked"))
	require.Equal(t, int64(1)<<40, doc.Int("count"))
	require.Equal(t, 0.25, doc.Fields["ratio"])
	require.True(t, at.Equal(doc.Time("expires_at")))
	require.Contains(t, doc.Fields, "terminated_at")
	require.Nil(t, doc.Fields["terminated_at"])
}

func TestQueryCombinesPushdownAndInMemoryFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	insert := func(user, status string, expires time.Time) string {
		id, err := store.Insert(ctx, "sessions", docstore.Fields{
			"user_id":    user,
			"status":     status,
			"expires_at": expires,
		})
		require.NoError(t, err)
		return id
	}
	live := insert("u1", "active", now.Add(time.Hour))
	later := insert("u1", "active", now.Add(2*time.Hour))
	insert("u1", "active", now.Add(-time.Hour))
	insert("u1", "terminated", now.Add(3*time.Hour))
	insert("u2", "active", now.Add(4*time.Hour))
	_, err := store.Insert(ctx, "session_terminations", docstore.Fields{"user_id": "u1"})
	require.NoError(t, err)

	docs, err := store.Query(ctx, docstore.Query{
		Collection: "sessions",
		Filters: []docstore.Filter{
			docstore.Where("user_id", docstore.Equal, "u1"),
			docstore.Where("status", docstore.Equal, "active"),
			docstore.Where("expires_at", docstore.Greater, now),
		},
		OrderBy: []docstore.Order{{Field: "expires_at", Descending: true}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, later, docs[0].ID)
	require.Equal(t, live, docs[1].ID)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, "sessions", docstore.Fields{"status": "active", "user_id": "u1"})
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, "sessions", id, docstore.Fields{"status": "terminated"}))
	doc, err := store.Get(ctx, "sessions", id)
	require.NoError(t, err)
	require.Equal(t, "terminated", doc.String("status"))
	require.Equal(t, "u1", doc.String("user_id"))

	var row models.Document
	require.NoError(t, store.db.Where("id = ?", id).Take(&row).Error)
	require.Equal(t, int64(2), row.Version)

	require.ErrorIs(t, store.Update(ctx, "sessions", "missing", docstore.Fields{"status": "x"}), docstore.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "sessions", id))
	_, err = store.Get(ctx, "sessions", id)
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "sessions", id))
}

func TestBatchRollsBackOnPreconditionFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, "sessions", docstore.Fields{"status": "terminated"})
	require.NoError(t, err)

	err = store.Batch(ctx, []docstore.Op{
		docstore.InsertOp("session_terminations", docstore.Fields{"session_id": id}),
		docstore.UpdateOp("sessions", id, docstore.Fields{"status": "terminated"},
			docstore.Where("status", docstore.Equal, "active")),
	})
	require.ErrorIs(t, err, docstore.ErrPreconditionFailed)

	logs, err := store.Query(ctx, docstore.Query{Collection: "session_terminations"})
	require.NoError(t, err)
	require.Empty(t, logs)

	err = store.Batch(ctx, []docstore.Op{
		docstore.UpdateOp("sessions", "missing", docstore.Fields{"status": "terminated"},
			docstore.Where("status", docstore.Equal, "active")),
	})
	require.ErrorIs(t, err, docstore.ErrPreconditionFailed)
}

func TestBatchCommitsEveryOp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, "sessions", docstore.Fields{"status": "active"})
	require.NoError(t, err)

	require.NoError(t, store.Batch(ctx, []docstore.Op{
		docstore.UpdateOp("sessions", id, docstore.Fields{"status": "terminated"},
			docstore.Where("status", docstore.Equal, "active")),
		{Kind: docstore.OpInsert, Collection: "session_terminations", ID: "log-1", Fields: docstore.Fields{"session_id": id}},
	}))

	doc, err := store.Get(ctx, "session_terminations", "log-1")
	require.NoError(t, err)
	require.Equal(t, id, doc.String("session_id"))
}

func TestSubscribeWakesOnLocalWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, WithPollInterval(time.Hour))

	snapshots := make(chan []docstore.Document, 8)
	unsubscribe, err := store.Subscribe(ctx, docstore.Query{
		Collection: "sessions",
		Filters:    []docstore.Filter{docstore.Where("user_id", docstore.Equal, "u1")},
	}, func(docs []docstore.Document) {
		snapshots <- docs
	}, func(err error) {
		t.Errorf("unexpected error: %v", err)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.Empty(t, receive(t, snapshots))

	_, err = store.Insert(ctx, "sessions", docstore.Fields{"user_id": "u1"})
	require.NoError(t, err)
	require.Len(t, receive(t, snapshots), 1)

	// Writes that do not change the result set are not redelivered.
	_, err = store.Insert(ctx, "sessions", docstore.Fields{"user_id": "u2"})
	require.NoError(t, err)
	select {
	case docs := <-snapshots:
		t.Fatalf("unexpected snapshot: %v", docs)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeReportsErrorsAfterClose(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Close(ctx))

	_, err := store.Subscribe(ctx, docstore.Query{Collection: "sessions"}, nil, nil)
	require.ErrorIs(t, err, docstore.ErrUnavailable)

	_, err = store.Insert(ctx, "sessions", docstore.Fields{"user_id": "u1"})
	require.ErrorIs(t, err, docstore.ErrUnavailable)
}

func receive(t *testing.T, ch <-chan []docstore.Document) []docstore.Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
