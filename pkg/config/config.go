package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
)

// Store backends
const (
	StoreBackendMemory   = "memory"
	StoreBackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Store    StoreConfig    `mapstructure:"store"`
	OTel     OTelConfig     `mapstructure:"otel"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Intent submissions per second per client IP, 0 disables limiting
	RateLimitRPS   int  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int  `mapstructure:"rate_limit_burst"`
	RateLimitRedis bool `mapstructure:"rate_limit_redis"`
}

// DatabaseConfig holds PostgreSQL connection settings for the projection store
// and the intent journal
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda settings for outcome events
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
}

// LedgerConfig holds the contract connection. The signer key is also the
// caller identity the engine and projector are built with.
type LedgerConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	ChainID           int64         `mapstructure:"chain_id"`
	ContractAddress   string        `mapstructure:"contract_address"`
	SignerKey         string        `mapstructure:"signer_key"`
	ABIPath           string        `mapstructure:"abi_path"`
	SettlementTimeout time.Duration `mapstructure:"settlement_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// Enabled reports whether an on-chain gateway should be wired. Without an
// RPC URL the service runs against the scripted in-memory gateway.
func (l *LedgerConfig) Enabled() bool {
	return l.RPCURL != ""
}

// StoreConfig selects the projection store backend
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional; environment variables are enough.
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific env file
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "yugo-reconciler")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	v.SetDefault("SERVER_RATE_LIMIT_RPS", 20)
	v.SetDefault("SERVER_RATE_LIMIT_BURST", 40)
	v.SetDefault("SERVER_RATE_LIMIT_REDIS", false)

	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "yugo")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 25)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "yugo-reconciler")

	v.SetDefault("LEDGER_RPC_URL", "")
	v.SetDefault("LEDGER_CHAIN_ID", 1337)
	v.SetDefault("LEDGER_CONTRACT_ADDRESS", "")
	v.SetDefault("LEDGER_SIGNER_KEY", "")
	v.SetDefault("LEDGER_ABI_PATH", "")
	v.SetDefault("LEDGER_SETTLEMENT_TIMEOUT", "2m")
	v.SetDefault("LEDGER_POLL_INTERVAL", "1s")

	v.SetDefault("STORE_BACKEND", StoreBackendMemory)
	v.SetDefault("STORE_CHANNEL_PREFIX", "yugo:projection")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "yugo-reconciler")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func bindConfig(v *viper.Viper, cfg *Config) {
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")
	cfg.Server.RateLimitRPS = v.GetInt("SERVER_RATE_LIMIT_RPS")
	cfg.Server.RateLimitBurst = v.GetInt("SERVER_RATE_LIMIT_BURST")
	cfg.Server.RateLimitRedis = v.GetBool("SERVER_RATE_LIMIT_REDIS")

	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxConns = v.GetInt("DATABASE_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	cfg.Ledger.RPCURL = v.GetString("LEDGER_RPC_URL")
	cfg.Ledger.ChainID = v.GetInt64("LEDGER_CHAIN_ID")
	cfg.Ledger.ContractAddress = v.GetString("LEDGER_CONTRACT_ADDRESS")
	cfg.Ledger.SignerKey = v.GetString("LEDGER_SIGNER_KEY")
	cfg.Ledger.ABIPath = v.GetString("LEDGER_ABI_PATH")
	cfg.Ledger.SettlementTimeout = v.GetDuration("LEDGER_SETTLEMENT_TIMEOUT")
	cfg.Ledger.PollInterval = v.GetDuration("LEDGER_POLL_INTERVAL")

	cfg.Store.Backend = v.GetString("STORE_BACKEND")
	cfg.Store.ChannelPrefix = v.GetString("STORE_CHANNEL_PREFIX")

	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for the postgres store")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database name is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	if c.Ledger.Enabled() {
		if !chain.IsAddress(c.Ledger.ContractAddress) {
			return fmt.Errorf("invalid ledger contract address %q", c.Ledger.ContractAddress)
		}
		if c.Ledger.SignerKey == "" {
			return fmt.Errorf("ledger signer key is required when an RPC URL is set")
		}
		if c.Ledger.ChainID <= 0 {
			return fmt.Errorf("invalid ledger chain id: %d", c.Ledger.ChainID)
		}
	}

	if c.Ledger.SettlementTimeout <= 0 {
		return fmt.Errorf("ledger settlement timeout must be positive")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
