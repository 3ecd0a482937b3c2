package database

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yugo-dao/yugo-sync/pkg/config"
)

// integrationConfig reads TEST_POSTGRES_* over the defaults, or skips
func integrationConfig(t *testing.T) *PostgresConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("set INTEGRATION_TEST=true to run against postgres")
	}

	cfg := DefaultPostgresConfig()
	if v := os.Getenv("TEST_POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v, err := strconv.Atoi(os.Getenv("TEST_POSTGRES_PORT")); err == nil {
		cfg.Port = v
	}
	if v := os.Getenv("TEST_POSTGRES_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("TEST_POSTGRES_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("TEST_POSTGRES_DATABASE"); v != "" {
		cfg.Database = v
	}
	return cfg
}

func TestDefaultPostgresConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "yugo", cfg.Database)
	assert.EqualValues(t, 25, cfg.MaxConns)
	assert.EqualValues(t, 5, cfg.MinConns)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		in       config.DatabaseConfig
		wantMax  int32
		wantMin  int32
		wantLife time.Duration
		wantDSN  string
	}{
		{
			name:     "overrides",
			in:       config.DatabaseConfig{Host: "db", Port: 6543, User: "yugo", Password: "secret", DBName: "projection", SSLMode: "require", MaxConns: 10, MinConns: 2, ConnMaxLifetime: time.Minute},
			wantMax:  10,
			wantMin:  2,
			wantLife: time.Minute,
			wantDSN:  "host=db port=6543 user=yugo password=secret dbname=projection sslmode=require",
		},
		{
			name:     "zero pool settings keep defaults",
			in:       config.DatabaseConfig{Host: "localhost", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"},
			wantMax:  25,
			wantMin:  5,
			wantLife: time.Hour,
			wantDSN:  "host=localhost port=5432 user=u password=p dbname=d sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromConfig(&tt.in)
			assert.Equal(t, tt.wantMax, cfg.MaxConns)
			assert.Equal(t, tt.wantMin, cfg.MinConns)
			assert.Equal(t, tt.wantLife, cfg.MaxConnLifetime)
			assert.Equal(t, tt.wantDSN, cfg.DSN())
		})
	}
}

func TestNewPostgres_GivesUpAfterRetries(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.Host = "invalid-host-that-does-not-exist"
	cfg.Port = 9999
	cfg.MaxRetries = 1
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.ConnectTimeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestNewPostgres_CancelledContext(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.Host = "invalid-host-that-does-not-exist"
	cfg.MaxRetries = 5
	cfg.RetryInterval = time.Hour
	cfg.ConnectTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, cfg)
	require.Error(t, err)
}

func TestPostgresDB_Integration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, db.Ping(ctx))
	require.NotNil(t, db.Pool())

	if err := db.HealthCheck(ctx); err != nil {
		assert.Contains(t, err.Error(), "projection schema is missing")
	}

	db.Close()
	assert.Error(t, db.Ping(ctx))
}
