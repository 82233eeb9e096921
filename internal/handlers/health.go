package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/lensfusion/internal/monitoring"
	"github.com/charlesng35/lensfusion/pkg/response"
)

// Health reports liveness and readiness probes together. A down probe
// answers 503 so load balancers stop routing to the instance.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return probe(manager, func(ctx context.Context) monitoring.HealthReport {
		return monitoring.MergeReports(manager.EvaluateLiveness(ctx), manager.EvaluateReadiness(ctx))
	})
}

// Liveness reports only the liveness probes.
func Liveness(manager *monitoring.HealthManager) gin.HandlerFunc {
	return probe(manager, func(ctx context.Context) monitoring.HealthReport {
		return manager.EvaluateLiveness(ctx)
	})
}

// Readiness reports only the readiness probes.
func Readiness(manager *monitoring.HealthManager) gin.HandlerFunc {
	return probe(manager, func(ctx context.Context) monitoring.HealthReport {
		return manager.EvaluateReadiness(ctx)
	})
}

func probe(manager *monitoring.HealthManager, evaluate func(context.Context) monitoring.HealthReport) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, monitoring.HealthReport{Success: true, Status: monitoring.StatusUp})
			return
		}

		report := evaluate(requestContext(c))
		status := http.StatusOK
		if report.Status == monitoring.StatusDown {
			status = http.StatusServiceUnavailable
		}
		response.Success(c, status, report)
	}
}
