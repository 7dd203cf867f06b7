package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLiteConfig 文件存储配置
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// Config 存储配置
type Config struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// DefaultConfig 默认使用本地 SQLite 文件
func DefaultConfig() Config {
	return Config{
		Driver:   DriverSQLite,
		SQLite:   SQLiteConfig{Path: "data/zhaojing-records.db"},
		Postgres: DefaultPostgresConfig(),
	}
}

// Validate 检查驱动和必要字段
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
		return nil
	case DriverPostgres:
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return fmt.Errorf("store.postgres.dsn or store.postgres.host is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
}

// Open 按配置打开存储
func Open(ctx context.Context, config Config) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		if config.SQLite.Path != ":memory:" {
			if dir := filepath.Dir(config.SQLite.Path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("failed to create data directory: %w", err)
				}
			}
		}
		return NewSQLiteStore(ctx, config.SQLite.Path)
	default:
		return NewPostgresStore(ctx, config.Postgres)
	}
}
