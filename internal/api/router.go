package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/lensfusion/internal/auth"
	"github.com/charlesng35/lensfusion/internal/cache"
	"github.com/charlesng35/lensfusion/internal/handlers"
	"github.com/charlesng35/lensfusion/internal/middleware"
	"github.com/charlesng35/lensfusion/internal/monitoring"
	"github.com/charlesng35/lensfusion/internal/realtime"
	"github.com/charlesng35/lensfusion/internal/sessions"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Registry *sessions.Registry
	JWT      *iauth.JWTService
	Revoker  *iauth.Revoker
	Hub      *realtime.Hub
	Health   *monitoring.HealthManager

	// RateStore backs the per-user rate limit on /api. A nil store disables it.
	RateStore cache.Store
	RateLimit middleware.RateLimitConfig

	DisableMetrics bool
	Logger         *zap.Logger
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("session registry must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hub := deps.Hub
	if hub == nil {
		hub = realtime.NewHub(log.Named("realtime"))
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	registerHealthRoutes(r, deps.Health)

	identity := iauth.NewProvider(deps.Revoker)

	sessionHandler, err := handlers.NewSessionHandler(deps.Registry, identity, hub, log.Named("sessions"))
	if err != nil {
		return nil, err
	}
	monitorHandler, err := handlers.NewSessionMonitorHandler(deps.Registry, identity, hub, log.Named("sessions"))
	if err != nil {
		return nil, err
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT, deps.Revoker))
	if deps.RateStore != nil {
		api.Use(middleware.RateLimit(deps.RateStore, deps.RateLimit))
	}

	registerAuthRoutes(api, handlers.NewAuthHandler(identity))
	registerSessionRoutes(api, sessionHandler, monitorHandler)
	registerRealtimeRoutes(api, handlers.NewRealtimeHandler(hub, identity))

	if !deps.DisableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
