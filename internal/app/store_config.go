package app

import (
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/internal/app/maintenance"
	"github.com/charlesng35/lensfusion/internal/database"
	"github.com/charlesng35/lensfusion/internal/docstore/mongostore"
	"github.com/charlesng35/lensfusion/internal/sessions"
)

// RegistryConfig converts SessionsConfig into registry parameters.
func (c SessionsConfig) RegistryConfig(log *zap.Logger) sessions.Config {
	return sessions.Config{
		SessionTTL:      c.TTL,
		RefreshInterval: c.RefreshInterval,
		ListCacheTTL:    c.ListCacheTTL,
		MonitorInterval: c.MonitorInterval,
		SweepBatchSize:  c.SweepBatchSize,
		Logger:          log,
	}
}

// MongoStoreConfig converts MongoConfig into mongostore parameters.
func (c MongoConfig) MongoStoreConfig() mongostore.Config {
	return mongostore.Config{
		URI:            strings.TrimSpace(c.URI),
		Database:       strings.TrimSpace(c.Database),
		ConnectTimeout: c.ConnectTimeout,
	}
}

// ConnectionConfig converts DatabaseConfig into gorm connection parameters.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var host DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(host.Host)
	dbCfg.Port = host.Port
	dbCfg.Name = strings.TrimSpace(host.Database)
	dbCfg.User = strings.TrimSpace(host.Username)
	dbCfg.Password = host.Password
	return dbCfg
}

// CleanerOptions converts MaintenanceConfig into maintenance options.
func (c MaintenanceConfig) CleanerOptions(log *zap.Logger) []maintenance.Option {
	opts := []maintenance.Option{maintenance.WithLogger(log)}
	if spec := strings.TrimSpace(c.SessionSchedule); spec != "" {
		opts = append(opts, maintenance.WithSessionSchedule(spec))
	}
	if spec := strings.TrimSpace(c.CacheSchedule); spec != "" {
		opts = append(opts, maintenance.WithCacheSchedule(spec))
	}
	if c.BatchSize > 0 {
		opts = append(opts, maintenance.WithBatchSize(c.BatchSize))
	}
	return opts
}
