package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"APP_NAME", "SERVER_PORT", "STORE_BACKEND", "KAFKA_ENABLED", "KAFKA_BROKERS",
		"LEDGER_RPC_URL", "LEDGER_CONTRACT_ADDRESS", "LEDGER_SIGNER_KEY", "LEDGER_SETTLEMENT_TIMEOUT",
	} {
		os.Unsetenv(v)
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "yugo-reconciler", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Ledger.SettlementTimeout)
	assert.False(t, cfg.Ledger.Enabled())
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_WithEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_NAME", "reconciler-test")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "reconciler-test", cfg.App.Name)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadWithPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_BACKEND=postgres\nDATABASE_DBNAME=projection\n"), 0o600))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, StoreBackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "projection", cfg.Database.DBName)
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "redis.example.com", Port: 6380}
	assert.Equal(t, "redis.example.com:6380", cfg.Addr())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			App:    AppConfig{Name: "test"},
			Server: ServerConfig{Port: 8080},
			Store:  StoreConfig{Backend: StoreBackendMemory},
			Ledger: LedgerConfig{SettlementTimeout: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing app name", func(c *Config) { c.App.Name = "" }, true},
		{"invalid port", func(c *Config) { c.Server.Port = -1 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"unknown store backend", func(c *Config) { c.Store.Backend = "moralis" }, true},
		{"postgres without db name", func(c *Config) {
			c.Store.Backend = StoreBackendPostgres
			c.Database.Host = "db"
		}, true},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, true},
		{"ledger with bad contract address", func(c *Config) {
			c.Ledger.RPCURL = "http://localhost:8545"
			c.Ledger.ContractAddress = "0x123"
			c.Ledger.SignerKey = "key"
			c.Ledger.ChainID = 1337
		}, true},
		{"ledger without signer", func(c *Config) {
			c.Ledger.RPCURL = "http://localhost:8545"
			c.Ledger.ContractAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
			c.Ledger.ChainID = 1337
		}, true},
		{"ledger fully configured", func(c *Config) {
			c.Ledger.RPCURL = "http://localhost:8545"
			c.Ledger.ContractAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
			c.Ledger.SignerKey = "key"
			c.Ledger.ChainID = 1337
		}, false},
		{"zero settlement timeout", func(c *Config) { c.Ledger.SettlementTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Environment(t *testing.T) {
	cfg := &Config{App: AppConfig{Environment: "production"}}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
