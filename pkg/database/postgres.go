package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yugo-dao/yugo-sync/pkg/config"
)

// PostgresConfig holds connection pool settings
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	MaxRetries      int
	RetryInterval   time.Duration
}

// DefaultPostgresConfig returns sane local defaults
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "yugo",
		SSLMode:         "disable",
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
	}
}

// FromConfig builds a PostgresConfig from the application database section
func FromConfig(c *config.DatabaseConfig) *PostgresConfig {
	cfg := DefaultPostgresConfig()
	cfg.Host = c.Host
	cfg.Port = c.Port
	cfg.User = c.User
	cfg.Password = c.Password
	cfg.Database = c.DBName
	cfg.SSLMode = c.SSLMode
	if c.MaxConns > 0 {
		cfg.MaxConns = int32(c.MaxConns)
	}
	if c.MinConns > 0 {
		cfg.MinConns = int32(c.MinConns)
	}
	if c.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = c.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime > 0 {
		cfg.MaxConnIdleTime = c.ConnMaxIdleTime
	}
	return cfg
}

// DSN returns the libpq-style connection string
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// PostgresDB wraps a pgx connection pool
type PostgresDB struct {
	pool   *pgxpool.Pool
	config *PostgresConfig
}

// NewPostgres opens a pool and pings it, retrying up to MaxRetries times
func NewPostgres(ctx context.Context, cfg *PostgresConfig) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			lastErr = err
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			continue
		}
		return &PostgresDB{pool: pool, config: cfg}, nil
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// Pool returns the underlying pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// HealthCheck confirms the projection schema is reachable, not just the
// server
func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	var present bool
	err := db.pool.QueryRow(ctx, "SELECT to_regclass('projection_documents') IS NOT NULL").Scan(&present)
	if err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	if !present {
		return errors.New("projection schema is missing")
	}
	return nil
}

// Close closes the pool
func (db *PostgresDB) Close() {
	db.pool.Close()
}
