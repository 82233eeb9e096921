package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/charlesng35/lensfusion/internal/cache"
	testutil "github.com/charlesng35/lensfusion/internal/database/testutil"
	"github.com/charlesng35/lensfusion/internal/docstore/sqlstore"
	"github.com/charlesng35/lensfusion/internal/sessions"
)

type fixedClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

func TestCleanerRunOncePurgesSessionsAndCache(t *testing.T) {
	ctx := context.Background()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &fixedClock{current: time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)}

	store, err := sqlstore.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	registry, err := sessions.NewRegistry(store, sessions.Config{Clock: clock.Now, SessionTTL: time.Hour})
	require.NoError(t, err)

	for _, user := range []string{"user-1", "user-2", "user-3"} {
		_, err := registry.Create(ctx, user, sessions.DeviceInfo{UserAgent: "UA1", Platform: "P1", Language: "en"})
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Hour)
	live, err := registry.Create(ctx, "user-4", sessions.DeviceInfo{UserAgent: "UA1", Platform: "P1", Language: "en"})
	require.NoError(t, err)

	cacheStore := cache.NewDatabaseStore(db)
	require.NoError(t, cacheStore.Set(ctx, "expired", []byte("1"), time.Nanosecond))
	time.Sleep(time.Millisecond)

	c := NewCleaner(registry, cacheStore,
		WithNow(clock.Now),
		WithBatchSize(2),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, c.RunOnce(ctx))

	_, err = registry.Get(ctx, live)
	require.NoError(t, err)
	for _, user := range []string{"user-1", "user-2", "user-3"} {
		list, err := registry.List(ctx, user, sessions.ListOptions{Fresh: true})
		require.NoError(t, err)
		require.Empty(t, list)
	}

	status := c.Status()
	require.Len(t, status, 2)
	require.Equal(t, JobCachePurge, status[0].Job)
	require.Equal(t, int64(1), status[0].LastRemoved)
	require.Equal(t, JobSessionPurge, status[1].Job)
	require.Equal(t, int64(3), status[1].LastRemoved)
	require.Equal(t, 1, status[1].TotalRuns)
	require.True(t, status[1].LastRunAt.Equal(clock.Now()))
}

type failingPurger struct{}

func (failingPurger) PurgeExpired(context.Context, int) (int, error) {
	return 0, errors.New("store down")
}

type failingCache struct{}

func (failingCache) PurgeExpired(context.Context) (int64, error) {
	return 0, errors.New("cache down")
}

func TestCleanerRunOnceAggregatesErrors(t *testing.T) {
	c := NewCleaner(failingPurger{}, failingCache{})

	err := c.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)

	for _, s := range c.Status() {
		require.Equal(t, 1, s.ConsecutiveFailures)
		require.NotEmpty(t, s.LastError)
	}

	require.Error(t, c.RunOnce(context.Background()))
	require.Equal(t, 2, c.Status()[0].ConsecutiveFailures)
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	c := NewCleaner(failingPurger{}, nil, WithSessionSchedule("not a schedule"))
	require.Error(t, c.Start())
}

func TestCleanerStartWithoutJobs(t *testing.T) {
	c := NewCleaner(nil, nil)
	require.NoError(t, c.Start())
	<-c.Stop().Done()
	require.NoError(t, c.RunOnce(context.Background()))
	require.Empty(t, c.Status())
}
