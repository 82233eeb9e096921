package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/lensfusion/internal/app/maintenance"
	"github.com/charlesng35/lensfusion/internal/cache"
	testutil "github.com/charlesng35/lensfusion/internal/database/testutil"
	"github.com/charlesng35/lensfusion/internal/docstore/memory"
	"github.com/charlesng35/lensfusion/internal/monitoring"
	"github.com/charlesng35/lensfusion/internal/monitoring/checks"
)

func TestHealthManagerEvaluate(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))
	manager.RegisterReadiness(monitoring.Check{})

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "redis", report.Checks[1].Component)

	live := manager.EvaluateLiveness(context.Background())
	require.True(t, live.Success)
	require.Empty(t, live.Checks)
}

func TestHealthManagerRecoversPanics(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("flaky", func(context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))
	manager.RegisterLiveness(monitoring.NewCheck("missing", nil))

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
	require.Equal(t, "flaky", report.Checks[0].Component)
	require.Equal(t, "missing", report.Checks[1].Component)
}

func TestMergeReportsAndResultFromError(t *testing.T) {
	degraded := monitoring.ResultFromError("mongo", context.DeadlineExceeded, time.Millisecond)
	require.Equal(t, monitoring.StatusDegraded, degraded.Status)

	up := monitoring.ResultFromError("mongo", nil, -time.Second)
	require.Equal(t, monitoring.StatusUp, up.Status)
	require.Zero(t, up.Duration)

	merged := monitoring.MergeReports(
		monitoring.HealthReport{Checks: []monitoring.ProbeResult{up}},
		monitoring.HealthReport{Checks: []monitoring.ProbeResult{degraded}},
	)
	require.False(t, merged.Success)
	require.Equal(t, monitoring.StatusDegraded, merged.Status)
	require.Len(t, merged.Checks, 2)
}

func TestDependencyChecks(t *testing.T) {
	ctx := context.Background()

	db := testutil.MustOpenTestDB(t)
	require.Equal(t, monitoring.StatusUp, checks.Database(db, 0).Run(ctx).Status)
	require.Equal(t, monitoring.StatusDown, checks.Database(nil, 0).Run(ctx).Status)

	mr := miniredis.RunT(t)
	redisStore, err := cache.NewRedisStore(ctx, cache.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisStore.Close() })
	require.Equal(t, monitoring.StatusUp, checks.Redis(redisStore, 0).Run(ctx).Status)
	require.Equal(t, monitoring.StatusUp, checks.Redis(nil, 0).Run(ctx).Status)
	mr.Close()
	require.NotEqual(t, monitoring.StatusUp, checks.Redis(redisStore, 100*time.Millisecond).Run(ctx).Status)

	store := memory.New()
	require.Equal(t, monitoring.StatusUp, checks.DocumentStore(store, "sessions", 0).Run(ctx).Status)
	require.NoError(t, store.Close(ctx))
	require.Equal(t, monitoring.StatusDown, checks.DocumentStore(store, "sessions", 0).Run(ctx).Status)
}

type stubPurger struct{ err error }

func (s stubPurger) PurgeExpired(context.Context, int) (int, error) { return 0, s.err }

func TestMaintenanceCheck(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	healthy := maintenance.NewCleaner(stubPurger{}, nil, maintenance.WithNow(clock))
	require.Equal(t, monitoring.StatusUp, checks.Maintenance(healthy, time.Hour, clock).Run(ctx).Status)
	require.NoError(t, healthy.RunOnce(ctx))
	require.Equal(t, monitoring.StatusUp, checks.Maintenance(healthy, time.Hour, clock).Run(ctx).Status)

	later := func() time.Time { return now.Add(2 * time.Hour) }
	stale := checks.Maintenance(healthy, time.Hour, later).Run(ctx)
	require.Equal(t, monitoring.StatusDegraded, stale.Status)
	require.Contains(t, stale.Details, maintenance.JobSessionPurge)

	failing := maintenance.NewCleaner(stubPurger{err: errors.New("store down")}, nil, maintenance.WithNow(clock))
	require.Error(t, failing.RunOnce(ctx))
	result := checks.Maintenance(failing, time.Hour, clock).Run(ctx)
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Contains(t, result.Details, "store down")
}
