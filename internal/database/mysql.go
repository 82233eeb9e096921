package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const defaultMySQLPort = 3306

// parseTime is required: documents carry time columns.
var mysqlDefaults = map[string]string{
	"charset":   "utf8mb4",
	"parseTime": "True",
	"loc":       "UTC",
}

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(dsn), gormConfig())
}

func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql: user and database name are required")
	}

	credentials := cfg.User
	if cfg.Password != "" {
		credentials += ":" + cfg.Password
	}
	addr := fmt.Sprintf("%s:%d", valueOr(cfg.Host, "127.0.0.1"), portOr(cfg.Port, defaultMySQLPort))
	query := strings.Join(mergeOptions(mysqlDefaults, cfg.Options), "&")

	return fmt.Sprintf("%s@tcp(%s)/%s?%s", credentials, addr, cfg.Name, query), nil
}
