package checks

import (
	"context"
	"time"

	"github.com/charlesng35/lensfusion/internal/monitoring"
)

// Pinger is implemented by the Redis cache store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis returns a readiness probe for the shared cache. A nil client means
// Redis is not configured and reports up.
func Redis(client Pinger, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		return monitoring.ResultFromError("redis", client.Ping(probeCtx), time.Since(start))
	})
}
