package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Environment  string             `mapstructure:"environment"`
	LogLevel     string             `mapstructure:"log_level"`
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Chains       ChainsConfig       `mapstructure:"chains"`
	Rates        RatesConfig        `mapstructure:"rates"`
	Settlement   SettlementConfig   `mapstructure:"settlement"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Notification NotificationConfig `mapstructure:"notification"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`

	// ChainQueryPerMin caps verify, broadcast and settlement checks per caller.
	ChainQueryPerMin int `mapstructure:"chain_query_per_min"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the persistence backend. "memory" keeps all state in
// process and is meant for local development only.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MigrationsPath  string `mapstructure:"migrations_path"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// DSN returns URL when set, otherwise a libpq connection string built from
// the individual fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslMode)
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PoolSize  int    `mapstructure:"pool_size"`
}

// LogConfig enables rotated file output next to stdout.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
}

// JWTConfig controls bearer authentication of the deposit API. When Required
// is false the API is expected to sit behind an authenticating gateway.
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Required bool   `mapstructure:"required"`
}

type ChainsConfig struct {
	Tron     TronConfig       `mapstructure:"tron"`
	Ethereum EVMNetworkConfig `mapstructure:"ethereum"`
	BSC      EVMNetworkConfig `mapstructure:"bsc"`
}

type TronConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	DepositAddress    string  `mapstructure:"deposit_address"`
	USDTContract      string  `mapstructure:"usdt_contract"`
	Timeout           int     `mapstructure:"timeout"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MinDeposit        string  `mapstructure:"min_deposit"`
	MaxDeposit        string  `mapstructure:"max_deposit"`
}

type EVMNetworkConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	RPCURL         string `mapstructure:"rpc_url"`
	ChainID        int64  `mapstructure:"chain_id"`
	DepositAddress string `mapstructure:"deposit_address"`
	Confirmations  uint64 `mapstructure:"confirmations"`
	Timeout        int    `mapstructure:"timeout"`
	MinDeposit     string `mapstructure:"min_deposit"`
	MaxDeposit     string `mapstructure:"max_deposit"`
}

type RatesConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Currency          string  `mapstructure:"currency"`
	TimeoutMs         int     `mapstructure:"timeout_ms"`
	CacheTTL          int     `mapstructure:"cache_ttl"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type SettlementConfig struct {
	ChainTimeout   int    `mapstructure:"chain_timeout"`
	PollSchedule   string `mapstructure:"poll_schedule"`
	PollBatchSize  int    `mapstructure:"poll_batch_size"`
	PollMinAge     int    `mapstructure:"poll_min_age"`
	IntentTTL      int    `mapstructure:"intent_ttl"`
	ExpiryInterval int    `mapstructure:"expiry_interval"`
}

// WebhookConfig secures the chain watcher callback. SkipSignatureVerify is
// honoured only outside production.
type WebhookConfig struct {
	Secret              string `mapstructure:"secret"`
	SkipSignatureVerify bool   `mapstructure:"skip_signature_verify"`
}

// NotificationConfig controls publication of settlement events. Events are
// always logged; Redis pub/sub and SNS are optional sinks.
type NotificationConfig struct {
	RedisEnabled bool   `mapstructure:"redis_enabled"`
	Channel      string `mapstructure:"channel"`
	SNSTopicARN  string `mapstructure:"sns_topic_arn"`
	AWSRegion    string `mapstructure:"aws_region"`
}

// SecretsConfig selects where JWT and webhook secrets left empty in config
// are read from: "env" or "aws" (Secrets Manager, names prefixed by Prefix).
type SecretsConfig struct {
	Provider string `mapstructure:"provider"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads the given YAML file, or configs/config.yaml when path is empty.
func LoadFrom(path string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 120)
	v.SetDefault("server.chain_query_per_min", 20)

	v.SetDefault("storage.driver", StorageDriverPostgres)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "settlement_service")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.query_timeout", 30)
	v.SetDefault("database.migrations_path", "file://migrations")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "settlement:")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.service_name", "settlement-service")
	v.SetDefault("tracing.insecure", false)

	v.SetDefault("jwt.issuer", "settlement_service")
	v.SetDefault("jwt.required", false)

	v.SetDefault("chains.tron.enabled", true)
	v.SetDefault("chains.tron.base_url", "https://api.trongrid.io")
	v.SetDefault("chains.tron.timeout", 15)
	v.SetDefault("chains.tron.requests_per_second", 10)
	v.SetDefault("chains.tron.min_deposit", "1")
	v.SetDefault("chains.tron.max_deposit", "10000000")

	v.SetDefault("chains.ethereum.enabled", true)
	v.SetDefault("chains.ethereum.chain_id", 1)
	v.SetDefault("chains.ethereum.confirmations", 12)
	v.SetDefault("chains.ethereum.timeout", 10)
	v.SetDefault("chains.ethereum.min_deposit", "0.001")
	v.SetDefault("chains.ethereum.max_deposit", "10000")

	v.SetDefault("chains.bsc.enabled", true)
	v.SetDefault("chains.bsc.chain_id", 56)
	v.SetDefault("chains.bsc.confirmations", 15)
	v.SetDefault("chains.bsc.timeout", 10)
	v.SetDefault("chains.bsc.min_deposit", "0.01")
	v.SetDefault("chains.bsc.max_deposit", "100000")

	v.SetDefault("rates.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("rates.currency", "USD")
	v.SetDefault("rates.timeout_ms", 3000)
	v.SetDefault("rates.cache_ttl", 60)
	v.SetDefault("rates.requests_per_second", 1)

	v.SetDefault("settlement.chain_timeout", 20)
	v.SetDefault("settlement.poll_schedule", "@every 30s")
	v.SetDefault("settlement.poll_batch_size", 100)
	v.SetDefault("settlement.poll_min_age", 10)
	v.SetDefault("settlement.intent_ttl", 3600)
	v.SetDefault("settlement.expiry_interval", 300)

	v.SetDefault("webhook.skip_signature_verify", false)

	v.SetDefault("notification.redis_enabled", false)
	v.SetDefault("notification.channel", "settlement.events")
	v.SetDefault("notification.aws_region", "us-east-1")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.prefix", "settlement-service/")
	v.SetDefault("secrets.region", "us-east-1")
}

// overrideFromEnv maps the conventional deployment variables onto config keys.
func overrideFromEnv(v *viper.Viper) {
	stringVars := map[string]string{
		"ENVIRONMENT":                 "environment",
		"LOG_LEVEL":                   "log_level",
		"STORAGE_DRIVER":              "storage.driver",
		"DATABASE_URL":                "database.url",
		"REDIS_HOST":                  "redis.host",
		"REDIS_PASSWORD":              "redis.password",
		"JWT_SECRET":                  "jwt.secret",
		"WEBHOOK_SECRET":              "webhook.secret",
		"TRON_API_KEY":                "chains.tron.api_key",
		"TRON_BASE_URL":               "chains.tron.base_url",
		"TRON_DEPOSIT_ADDRESS":        "chains.tron.deposit_address",
		"TRON_USDT_CONTRACT":          "chains.tron.usdt_contract",
		"ETH_RPC_URL":                 "chains.ethereum.rpc_url",
		"ETH_DEPOSIT_ADDRESS":         "chains.ethereum.deposit_address",
		"BSC_RPC_URL":                 "chains.bsc.rpc_url",
		"BSC_DEPOSIT_ADDRESS":         "chains.bsc.deposit_address",
		"SNS_TOPIC_ARN":               "notification.sns_topic_arn",
		"AWS_REGION":                  "notification.aws_region",
		"COINGECKO_API_KEY":           "rates.api_key",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "tracing.endpoint",
	}
	for env, key := range stringVars {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	intVars := map[string]string{
		"PORT":       "server.port",
		"REDIS_PORT": "redis.port",
	}
	for env, key := range intVars {
		if val := os.Getenv(env); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				v.Set(key, n)
			}
		}
	}

	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			v.Set("redis.enabled", b)
		}
	}
}

func validate(config *Config) error {
	switch config.Storage.Driver {
	case StorageDriverPostgres:
		if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
			return fmt.Errorf("database configuration is incomplete")
		}
	case StorageDriverMemory:
		if config.Environment == "production" {
			return fmt.Errorf("memory storage is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	if config.JWT.Required && config.JWT.Secret == "" && config.Secrets.Provider != "aws" {
		return fmt.Errorf("JWT secret is required when authentication is enabled")
	}

	enabled := 0
	if config.Chains.Tron.Enabled {
		enabled++
		if config.Chains.Tron.DepositAddress == "" {
			return fmt.Errorf("chains.tron.deposit_address is required")
		}
	}
	for name, n := range map[string]EVMNetworkConfig{"ethereum": config.Chains.Ethereum, "bsc": config.Chains.BSC} {
		if !n.Enabled {
			continue
		}
		enabled++
		if n.RPCURL == "" {
			return fmt.Errorf("chains.%s.rpc_url is required", name)
		}
		if n.DepositAddress == "" {
			return fmt.Errorf("chains.%s.deposit_address is required", name)
		}
		if n.ChainID <= 0 {
			return fmt.Errorf("chains.%s.chain_id must be positive", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one chain must be enabled")
	}

	if config.Secrets.Provider != "env" && config.Secrets.Provider != "aws" {
		return fmt.Errorf("unknown secrets provider %q", config.Secrets.Provider)
	}

	if config.Webhook.SkipSignatureVerify && config.Environment == "production" {
		return fmt.Errorf("webhook signature verification cannot be skipped in production")
	}

	if config.Settlement.ChainTimeout <= 0 {
		return fmt.Errorf("settlement.chain_timeout must be positive")
	}

	return nil
}

// ChainTimeoutDuration bounds a single finality query.
func (s SettlementConfig) ChainTimeoutDuration() time.Duration {
	return time.Duration(s.ChainTimeout) * time.Second
}

func (s SettlementConfig) IntentTTLDuration() time.Duration {
	return time.Duration(s.IntentTTL) * time.Second
}

func (s SettlementConfig) ExpiryIntervalDuration() time.Duration {
	return time.Duration(s.ExpiryInterval) * time.Second
}

func (s SettlementConfig) PollMinAgeDuration() time.Duration {
	return time.Duration(s.PollMinAge) * time.Second
}
