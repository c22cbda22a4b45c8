package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

type Config struct {
	ServiceName string           `mapstructure:"service_name" yaml:"service_name"`
	HTTP        HTTPConfig       `mapstructure:"http" yaml:"http"`
	Database    DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Encryption  EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	Retry       RetryConfig      `mapstructure:"retry" yaml:"retry"`
	Outbox      OutboxConfig     `mapstructure:"outbox" yaml:"outbox"`
	Kafka       KafkaConfig      `mapstructure:"kafka" yaml:"kafka"`
	Redis       RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Tracing     TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Plugins     PluginsConfig    `mapstructure:"plugins" yaml:"plugins"`
	Debug       bool             `mapstructure:"debug" yaml:"debug"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type EncryptionConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Provider string `mapstructure:"provider" yaml:"provider"`
	Secret   string `mapstructure:"secret" yaml:"secret"`
	Cipher   string `mapstructure:"cipher" yaml:"cipher"`
	Mode     string `mapstructure:"mode" yaml:"mode"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type RedisConfig struct {
	Addr    string        `mapstructure:"addr" yaml:"addr"`
	LockTTL time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

type PluginsConfig struct {
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
}

type SandboxConfig struct {
	Methods      []string `mapstructure:"methods" yaml:"methods"`
	ApprovalRate int      `mapstructure:"approval_rate" yaml:"approval_rate"`
	PendingRate  int      `mapstructure:"pending_rate" yaml:"pending_rate"`
}

type GatewayConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Methods []string      `mapstructure:"methods" yaml:"methods"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "payment-orchestrator")
	v.SetDefault("http.port", "8080")
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "payments.db")
	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.secret", "")
	v.SetDefault("encryption.provider", "aes")
	v.SetDefault("encryption.cipher", "aes-256")
	v.SetDefault("encryption.mode", "ctr")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("outbox.poll_interval", 500*time.Millisecond)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "payment.events")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("plugins.sandbox.methods", []string{"sandbox"})
	v.SetDefault("plugins.sandbox.approval_rate", 70)
	v.SetDefault("plugins.sandbox.pending_rate", 10)
	v.SetDefault("plugins.gateway.url", "")
	v.SetDefault("plugins.gateway.methods", []string{})
	v.SetDefault("plugins.gateway.timeout", 10*time.Second)
	v.SetDefault("debug", false)
}

// Load reads .env (if present), then the optional YAML file at path, then
// PAYMENT_* environment overrides, e.g. PAYMENT_ENCRYPTION_SECRET. Only keys
// with a default are looked up in the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, err, "load .env")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PAYMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfiguration, err, "read config %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, err, "decode config")
	}
	return cfg, cfg.Validate()
}

// Validate reports the first fatal misconfiguration.
func (c *Config) Validate() error {
	if c.Encryption.Enabled {
		if c.Encryption.Secret == "" {
			return apperrors.Configuration("encryption.secret is required when encryption is enabled")
		}
		switch c.Encryption.Provider {
		case "aes", "secretbox":
		default:
			return apperrors.Configuration("encryption.provider %q is not supported", c.Encryption.Provider)
		}
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		return apperrors.Configuration("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Retry.MaxAttempts <= 0 {
		return apperrors.Configuration("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return apperrors.Configuration("retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if len(c.Plugins.Sandbox.Methods) == 0 && len(c.Plugins.Gateway.Methods) == 0 {
		return apperrors.Configuration("there is no payment method available, configure at least one plugin")
	}
	if len(c.Plugins.Gateway.Methods) > 0 && c.Plugins.Gateway.URL == "" {
		return apperrors.Configuration("plugins.gateway.url is required when gateway methods are configured")
	}
	return nil
}

// Redacted returns the configuration as YAML with secrets masked.
func (c *Config) Redacted() ([]byte, error) {
	cp := *c
	if cp.Encryption.Secret != "" {
		cp.Encryption.Secret = "******"
	}
	return yaml.Marshal(&cp)
}

// Getenv reads a raw variable with a fallback.
func Getenv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
