package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/lensfusion/internal/app/maintenance"
	"github.com/charlesng35/lensfusion/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// JobReporter exposes the run history of background jobs.
type JobReporter interface {
	Status() []maintenance.JobStatus
}

// Maintenance reports down while a job keeps failing and degraded when its
// last run is older than maxAge.
func Maintenance(reporter JobReporter, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		if reporter == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance disabled"}
		}
		jobs := reporter.Status()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance runs yet"}
		}

		status := monitoring.StatusUp
		var problems []string
		for _, job := range jobs {
			if job.ConsecutiveFailures > 0 {
				status = monitoring.Worst(status, monitoring.StatusDown)
				problems = append(problems, job.Job+": "+job.LastError)
				continue
			}
			if now().Sub(job.LastRunAt) > maxAge {
				status = monitoring.Worst(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}
		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
