package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/lensfusion/internal/docstore"
)

func TestNewRegistryRequiresStore(t *testing.T) {
	_, err := NewRegistry(nil, Config{})
	require.Error(t, err)
}

func TestCreateInsertsActiveSession(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	id, err := f.registry.Create(ctx, "user-1", DeviceInfo{UserAgent: " UA1 ", Platform: "P1", Language: "en", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "user-1", s.UserID)
	require.Equal(t, StatusActive, s.Status)
	require.Equal(t, "UA1", s.Device.UserAgent)
	require.Equal(t, "10.0.0.1", s.Device.IPAddress)
	require.True(t, s.CreatedAt.Equal(f.clock.Now()))
	require.True(t, s.LastActive.Equal(f.clock.Now()))
	require.True(t, s.ExpiresAt.Equal(f.clock.Now().Add(DefaultSessionTTL)))
	require.Nil(t, s.TerminatedAt)

	doc := sessionDoc(t, f, id)
	require.Equal(t, deviceA.Fingerprint(), doc.String(fieldFingerprint))
}

func TestCreateReusesSessionWithoutWritingInsideRefreshWindow(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	first, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	require.Equal(t, 1, f.store.writeCount())

	f.clock.Advance(10 * time.Minute)
	second, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, f.store.writeCount())

	s, err := f.registry.Get(ctx, first)
	require.NoError(t, err)
	require.True(t, s.LastActive.Equal(f.clock.Now().Add(-10*time.Minute)))

	sessions, err := f.registry.List(ctx, "user-1", ListOptions{Fresh: true})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestCreateBumpsExpiryAfterRefreshInterval(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	id, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	created := f.clock.Now()

	f.clock.Advance(DefaultRefreshInterval + time.Minute)
	again, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, 2, f.store.writeCount())

	s, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, s.CreatedAt.Equal(created))
	require.True(t, s.LastActive.Equal(f.clock.Now()))
	require.True(t, s.ExpiresAt.Equal(f.clock.Now().Add(DefaultSessionTTL)))
	require.False(t, s.ExpiresAt.Before(s.CreatedAt))
}

func TestCreateSeparatesDevicesAndUsers(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	a, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	b, err := f.registry.Create(ctx, "user-1", deviceB)
	require.NoError(t, err)
	other, err := f.registry.Create(ctx, "user-2", deviceA)
	require.NoError(t, err)
	lang, err := f.registry.Create(ctx, "user-1", DeviceInfo{UserAgent: "UA1", Platform: "P1", Language: "fr"})
	require.NoError(t, err)

	require.Len(t, map[string]struct{}{a: {}, b: {}, other: {}, lang: {}}, 4)
}

func TestCreateRejectsMalformedInputBeforeStoreCalls(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		userID string
		device DeviceInfo
	}{
		{"empty user", "  ", deviceA},
		{"missing user agent", "user-1", DeviceInfo{Platform: "P1", Language: "en"}},
		{"missing platform", "user-1", DeviceInfo{UserAgent: "UA1", Language: "en"}},
		{"invalid language", "user-1", DeviceInfo{UserAgent: "UA1", Platform: "P1", Language: "not a language"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.registry.Create(ctx, tc.userID, tc.device)
			require.True(t, IsKind(err, KindMalformedInput), "got %v", err)
		})
	}
	require.Zero(t, f.store.callCount())
}

func TestCreateSurfacesStoreUnavailable(t *testing.T) {
	f := setupRegistry(t)
	f.store.setQueryErr(docstore.Unavailable("query", errors.New("connection reset")))

	_, err := f.registry.Create(context.Background(), "user-1", deviceA)
	require.True(t, IsKind(err, KindStoreUnavailable), "got %v", err)
	require.ErrorIs(t, err, docstore.ErrUnavailable)
	require.Equal(t, 0, f.store.writeCount())
	require.Equal(t, 1, f.logs.FilterMessage("expiry sweep failed").Len())
}

func TestCreateSweepsOnlyTheUsersExpiredRows(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	stale, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	otherStale, err := f.registry.Create(ctx, "user-2", deviceA)
	require.NoError(t, err)

	f.clock.Advance(DefaultSessionTTL + time.Hour)

	fresh, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	require.NotEqual(t, stale, fresh)

	_, err = f.registry.Get(ctx, stale)
	require.True(t, IsKind(err, KindNotFound), "got %v", err)

	_, err = f.registry.Get(ctx, otherStale)
	require.NoError(t, err)
}

func TestCreateSweepIsBounded(t *testing.T) {
	f := setupRegistry(t, func(cfg *Config) { cfg.SweepBatchSize = 2 })
	ctx := context.Background()

	for _, ua := range []string{"UA1", "UA2", "UA3"} {
		_, err := f.registry.Create(ctx, "user-1", DeviceInfo{UserAgent: ua, Platform: "P1", Language: "en"})
		require.NoError(t, err)
	}
	f.clock.Advance(DefaultSessionTTL + time.Second)

	_, err := f.registry.Create(ctx, "user-1", deviceB)
	require.NoError(t, err)

	docs, err := f.store.Store.Query(ctx, docstore.Query{
		Collection: SessionsCollection,
		Filters:    []docstore.Filter{docstore.Where(fieldExpiresAt, docstore.LessOrEqual, f.clock.Now())},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestCreateToleratesSweepFailure(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	_, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	f.clock.Advance(DefaultSessionTTL + time.Hour)

	f.store.setBatchHook(func(ops []docstore.Op) error {
		if ops[0].Kind == docstore.OpDelete {
			return docstore.Unavailable("batch", errors.New("timeout"))
		}
		return nil
	})

	id, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, 1, f.logs.FilterMessage("expiry sweep failed").Len())
}

func TestCreateIssuesNewSessionWhenBumpLosesRace(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	id, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	f.clock.Advance(DefaultRefreshInterval + time.Minute)

	f.store.setBatchHook(func(ops []docstore.Op) error {
		if ops[0].Kind == docstore.OpUpdate {
			terminate := docstore.UpdateOp(SessionsCollection, id, docstore.Fields{fieldStatus: string(StatusTerminated)})
			require.NoError(t, f.store.Store.Batch(ctx, []docstore.Op{terminate}))
			return docstore.ErrPreconditionFailed
		}
		return nil
	})

	again, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	require.NotEqual(t, id, again)
}

func TestCreateKeepsSessionWhenBumpConflictsWithConcurrentWriter(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	id, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	f.clock.Advance(DefaultRefreshInterval + time.Minute)

	// A version conflict while the session is still active.
	f.store.setBatchHook(func(ops []docstore.Op) error {
		if ops[0].Kind == docstore.OpUpdate {
			return docstore.ErrPreconditionFailed
		}
		return nil
	})

	again, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	require.Equal(t, id, again)

	docs, err := f.store.Store.Query(ctx, docstore.Query{
		Collection: SessionsCollection,
		Filters:    []docstore.Filter{docstore.Where(fieldUserID, docstore.Equal, "user-1")},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestListOrdersByExpiryDescendingAndCaches(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	older, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	newer, err := f.registry.Create(ctx, "user-1", deviceB)
	require.NoError(t, err)

	sessions, err := f.registry.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, newer, sessions[0].ID)
	require.Equal(t, older, sessions[1].ID)

	// A write from another instance is invisible until the cache expires.
	_, err = f.store.Store.Insert(ctx, SessionsCollection,
		newSessionFields("user-1", DeviceInfo{UserAgent: "UA3", Platform: "P1", Language: "en"}, f.clock.Now(), time.Hour))
	require.NoError(t, err)

	cached, err := f.registry.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, cached, 2)

	fresh, err := f.registry.List(ctx, "user-1", ListOptions{Fresh: true})
	require.NoError(t, err)
	require.Len(t, fresh, 3)

	f.clock.Advance(DefaultListCacheTTL)
	_, err = f.store.Store.Insert(ctx, SessionsCollection,
		newSessionFields("user-1", DeviceInfo{UserAgent: "UA4", Platform: "P1", Language: "en"}, f.clock.Now(), time.Hour))
	require.NoError(t, err)
	expired, err := f.registry.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, expired, 4)
}

func TestListCacheIsInvalidatedByLocalWrites(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	a, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	sessions, err := f.registry.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	_, err = f.registry.Create(ctx, "user-1", deviceB)
	require.NoError(t, err)
	sessions, err = f.registry.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	result, err := f.registry.Delete(ctx, a, DeleteOptions{})
	require.NoError(t, err)
	require.Equal(t, ResultTerminated, result)
	sessions, err = f.registry.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestListReturnsCopies(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	_, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)

	sessions, err := f.registry.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	sessions[0].ID = "mutated"

	again, err := f.registry.List(ctx, "user-1", ListOptions{})
	require.NoError(t, err)
	require.NotEqual(t, "mutated", again[0].ID)
}

func TestListRequiresUser(t *testing.T) {
	f := setupRegistry(t)
	_, err := f.registry.List(context.Background(), "", ListOptions{})
	require.True(t, IsKind(err, KindMalformedInput))
}

func TestPurgeExpiredSpansUsers(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	_, err := f.registry.Create(ctx, "user-1", deviceA)
	require.NoError(t, err)
	_, err = f.registry.Create(ctx, "user-2", deviceA)
	require.NoError(t, err)
	f.clock.Advance(DefaultSessionTTL + time.Minute)
	live, err := f.registry.Create(ctx, "user-3", deviceA)
	require.NoError(t, err)

	removed, err := f.registry.PurgeExpired(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = f.registry.Get(ctx, live)
	require.NoError(t, err)

	removed, err = f.registry.PurgeExpired(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestGetValidatesAndReportsNotFound(t *testing.T) {
	f := setupRegistry(t)
	_, err := f.registry.Get(context.Background(), "")
	require.True(t, IsKind(err, KindMalformedInput))

	_, err = f.registry.Get(context.Background(), "missing")
	require.True(t, IsKind(err, KindNotFound))
}
