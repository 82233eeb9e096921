package sessions

import (
	"time"

	"go.uber.org/zap"
)

// Defaults applied when Config leaves a value unset.
const (
	DefaultSessionTTL      = 14 * 24 * time.Hour
	DefaultRefreshInterval = 30 * time.Minute
	DefaultListCacheTTL    = 5 * time.Minute
	DefaultMonitorInterval = 30 * time.Second
	DefaultSweepBatchSize  = 20
	defaultLogLimit        = 50
)

// Config describes tunable behaviour for the Registry.
type Config struct {
	SessionTTL      time.Duration
	RefreshInterval time.Duration
	ListCacheTTL    time.Duration
	MonitorInterval time.Duration
	SweepBatchSize  int
	Clock           func() time.Time
	Logger          *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.ListCacheTTL <= 0 {
		c.ListCacheTTL = DefaultListCacheTTL
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = DefaultSweepBatchSize
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
