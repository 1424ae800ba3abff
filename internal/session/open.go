package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config selects and configures a Store backend.
type Config struct {
	Logger *slog.Logger
	Driver string
	// DSN is used by the sqlite and postgres drivers.
	DSN string
	// RedisAddr may list several comma-separated cluster nodes.
	RedisAddr     string
	RedisPassword string
	TTL           time.Duration
}

// Open builds the configured store. An empty driver means memory.
func Open(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("session config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		cfg.Logger.Info("using in-memory session store")
		return NewMemoryStore(), nil

	case DriverSQLite, DriverPostgres:
		db, err := NewDB(&DBConfig{
			Logger:  cfg.Logger,
			Dialect: Dialect(strings.ToLower(cfg.Driver)),
			DSN:     cfg.DSN,
		})
		if err != nil {
			return nil, err
		}
		return NewSQLStore(db, cfg.Logger)

	case DriverRedis:
		addrs := strings.Split(cfg.RedisAddr, ",")
		for i := range addrs {
			addrs[i] = strings.TrimSpace(addrs[i])
		}
		if cfg.RedisAddr == "" {
			addrs = nil
		}
		store, err := NewRedisStore(ctx, &RedisConfig{
			Addrs:    addrs,
			Password: cfg.RedisPassword,
			TTL:      cfg.TTL,
		})
		if err != nil {
			return nil, err
		}
		cfg.Logger.Info("using redis session store", "addrs", addrs)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.Driver)
	}
}
