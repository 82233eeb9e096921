package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/lensfusion/internal/api"
	"github.com/charlesng35/lensfusion/internal/app"
	"github.com/charlesng35/lensfusion/internal/app/maintenance"
	iauth "github.com/charlesng35/lensfusion/internal/auth"
	"github.com/charlesng35/lensfusion/internal/cache"
	"github.com/charlesng35/lensfusion/internal/database"
	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/internal/docstore/memory"
	"github.com/charlesng35/lensfusion/internal/docstore/mongostore"
	"github.com/charlesng35/lensfusion/internal/docstore/sqlstore"
	"github.com/charlesng35/lensfusion/internal/middleware"
	"github.com/charlesng35/lensfusion/internal/monitoring"
	"github.com/charlesng35/lensfusion/internal/monitoring/checks"
	"github.com/charlesng35/lensfusion/internal/realtime"
	"github.com/charlesng35/lensfusion/internal/sessions"
	"github.com/charlesng35/lensfusion/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Store    docstore.Store
	Redis    *cache.RedisStore
	Cache    cache.Store
	Registry *sessions.Registry
	Cleaner  *maintenance.Cleaner
	Health   *monitoring.HealthManager
	Router   *gin.Engine
}

// bootstrapRuntime initialises stores, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := stack.openStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	stack.openCache(ctx, cfg, log)

	stack.Registry, err = sessions.NewRegistry(stack.Store, cfg.Sessions.RegistryConfig(logger.WithModule("sessions")))
	if err != nil {
		return nil, fmt.Errorf("initialise session registry: %w", err)
	}

	jwtCfg, err := cfg.Auth.JWTServiceConfig()
	if err != nil {
		return nil, err
	}
	jwtSvc, err := iauth.NewJWTService(jwtCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	revoker, err := iauth.NewRevoker(stack.Cache, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise token denylist: %w", err)
	}

	var cachePurger maintenance.CachePurger
	if dbCache, ok := stack.Cache.(*cache.DatabaseStore); ok {
		cachePurger = dbCache
	}
	stack.Cleaner = maintenance.NewCleaner(stack.Registry, cachePurger, cfg.Maintenance.CleanerOptions(logger.WithModule("maintenance"))...)
	if cfg.Maintenance.Enabled {
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	if cfg.Monitoring.Health.Enabled {
		stack.Health = stack.healthChecks(cfg)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Registry:  stack.Registry,
		JWT:       jwtSvc,
		Revoker:   revoker,
		Hub:       realtime.NewHub(logger.WithModule("realtime")),
		Health:    stack.Health,
		RateStore: stack.Cache,
		RateLimit: middleware.RateLimitConfig{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		},
		DisableMetrics: !cfg.Monitoring.Prometheus.Enabled,
		Logger:         logger.WithModule("http"),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) openStore(ctx context.Context, cfg *app.Config, log *zap.Logger) error {
	var store docstore.Store

	switch cfg.Store.Driver {
	case app.StoreMemory:
		log.Warn("sessions are kept in process memory and lost on restart")
		store = memory.New()
	case app.StoreSQL:
		db, err := initialiseDatabase(cfg)
		if err != nil {
			return err
		}
		s.DB = db
		sql, err := sqlstore.New(db,
			sqlstore.WithPollInterval(cfg.Store.PollInterval),
			sqlstore.WithLogger(logger.WithModule("sqlstore")),
		)
		if err != nil {
			return fmt.Errorf("initialise sql document store: %w", err)
		}
		store = sql
	case app.StoreMongo:
		mongo, err := mongostore.Open(ctx, cfg.Mongo.MongoStoreConfig(), logger.WithModule("mongostore"))
		if err != nil {
			return fmt.Errorf("connect mongo document store: %w", err)
		}
		log.Info("mongo connected", zap.String("database", cfg.Mongo.Database))
		store = mongo
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}

	s.Store = docstore.Instrument(store)
	return nil
}

// openCache picks Redis when configured and reachable, then the SQL cache
// table, then process memory.
func (s *runtimeStack) openCache(ctx context.Context, cfg *app.Config, log *zap.Logger) {
	if cfg.Cache.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig())
		if err != nil {
			log.Warn("redis unavailable; falling back to local cache", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
			s.Redis = redisStore
			s.Cache = redisStore
			return
		}
	}
	if s.DB != nil {
		s.Cache = cache.NewDatabaseStore(s.DB)
		return
	}
	s.Cache = cache.NewMemoryStore()
}

func (s *runtimeStack) healthChecks(cfg *app.Config) *monitoring.HealthManager {
	timeout := cfg.Monitoring.ProbeTimeout
	manager := monitoring.NewHealthManager()

	if cfg.Maintenance.Enabled {
		manager.RegisterLiveness(checks.Maintenance(s.Cleaner, cfg.Maintenance.MaxStaleness, nil))
	}
	manager.RegisterReadiness(checks.DocumentStore(s.Store, sessions.SessionsCollection, timeout))
	if s.DB != nil {
		manager.RegisterReadiness(checks.Database(s.DB, timeout))
	}
	if s.Redis != nil {
		manager.RegisterReadiness(checks.Redis(s.Redis, timeout))
	}
	return manager
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		<-stopCtx.Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	var errs error
	if s.Store != nil {
		errs = multierr.Append(errs, s.Store.Close(ctx))
	}
	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
	}
	if errs != nil {
		log.Warn("shutdown released resources with errors", zap.Error(errs))
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql handle: %w", err)
	}
	return sqlDB.Close()
}
