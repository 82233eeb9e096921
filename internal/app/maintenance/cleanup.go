package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/pkg/logger"
)

const (
	defaultSessionSpec = "@hourly"
	defaultCacheSpec   = "@daily"
	defaultPurgeBatch  = 200
	// maxPurgeRounds bounds one run so a huge backlog is drained over
	// several schedules instead of holding the scheduler.
	maxPurgeRounds = 50

	JobSessionPurge = "session_purge"
	JobCachePurge   = "cache_purge"
)

// SessionPurger deletes expired sessions across all users.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, limit int) (int, error)
}

// CachePurger deletes expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// JobStatus summarises the run history of one maintenance job.
type JobStatus struct {
	Job                 string    `json:"job"`
	TotalRuns           int       `json:"total_runs"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastRunAt           time.Time `json:"last_run_at"`
	LastRemoved         int64     `json:"last_removed"`
	LastError           string    `json:"last_error,omitempty"`
}

// Cleaner schedules the expired-session backstop and cache pruning.
type Cleaner struct {
	sessions SessionPurger
	cache    CachePurger
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger
	batch    int

	sessionSchedule string
	cacheSchedule   string

	mu     sync.Mutex
	status map[string]*JobStatus
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to stamp job runs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSessionSchedule overrides the cron expression for session purging.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron expression for cache pruning.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithBatchSize sets how many sessions one purge round deletes.
func WithBatchSize(n int) Option {
	return func(cleaner *Cleaner) {
		if n > 0 {
			cleaner.batch = n
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(cleaner *Cleaner) {
		if log != nil {
			cleaner.log = log
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips its job.
func NewCleaner(sessions SessionPurger, cache CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		cache:           cache,
		now:             time.Now,
		batch:           defaultPurgeBatch,
		sessionSchedule: defaultSessionSpec,
		cacheSchedule:   defaultCacheSpec,
		log:             logger.WithModule("maintenance"),
		status:          make(map[string]*JobStatus),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the enabled jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.sessions == nil && c.cache == nil {
		return nil
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			if _, err := c.purgeSessions(context.Background()); err != nil {
				c.log.Warn("session purge failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule session purge: %w", err)
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := c.purgeCache(context.Background()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule cache purge: %w", err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once
// running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.sessions != nil {
		if _, err := c.purgeSessions(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.cache != nil {
		if _, err := c.purgeCache(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Status returns the run history of every job that has run, sorted by name.
func (c *Cleaner) Status() []JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]JobStatus, 0, len(c.status))
	for _, s := range c.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

func (c *Cleaner) purgeSessions(ctx context.Context) (int64, error) {
	var total int64
	for round := 0; round < maxPurgeRounds; round++ {
		removed, err := c.sessions.PurgeExpired(ctx, c.batch)
		total += int64(removed)
		if err != nil {
			err = fmt.Errorf("maintenance: purge sessions: %w", err)
			c.record(JobSessionPurge, total, err)
			return total, err
		}
		if removed < c.batch {
			break
		}
	}
	c.record(JobSessionPurge, total, nil)
	return total, nil
}

func (c *Cleaner) purgeCache(ctx context.Context) (int64, error) {
	removed, err := c.cache.PurgeExpired(ctx)
	if err != nil {
		err = fmt.Errorf("maintenance: purge cache: %w", err)
	}
	c.record(JobCachePurge, removed, err)
	return removed, err
}

func (c *Cleaner) record(job string, removed int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.status[job]
	if !ok {
		s = &JobStatus{Job: job}
		c.status[job] = s
	}
	s.TotalRuns++
	s.LastRunAt = c.now()
	s.LastRemoved = removed
	if err != nil {
		s.ConsecutiveFailures++
		s.LastError = err.Error()
		return
	}
	s.ConsecutiveFailures = 0
	s.LastError = ""
	if removed > 0 {
		c.log.Info("maintenance job completed", zap.String("job", job), zap.Int64("removed", removed))
	}
}
