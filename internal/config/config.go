// Package config loads service settings from .env, an optional YAML file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Env string `mapstructure:"env"`

	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	CORS struct {
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		AllowedMethods []string `mapstructure:"allowed_methods"`
		AllowedHeaders []string `mapstructure:"allowed_headers"`
	} `mapstructure:"cors"`

	Database struct {
		// DSN empty selects the in-memory store.
		DSN               string        `mapstructure:"dsn"`
		MaxConns          int32         `mapstructure:"max_conns"`
		MinConns          int32         `mapstructure:"min_conns"`
		MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
		MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
		HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
		StatementTimeout  time.Duration `mapstructure:"statement_timeout"`
		LockTimeout       time.Duration `mapstructure:"lock_timeout"`
		AutoMigrate       bool          `mapstructure:"auto_migrate"`
	} `mapstructure:"database"`

	Redis struct {
		// Addr empty selects in-process draft locks.
		Addr          string        `mapstructure:"addr"`
		Password      string        `mapstructure:"password"`
		DB            int           `mapstructure:"db"`
		LockTTL       time.Duration `mapstructure:"lock_ttl"`
		ChannelPrefix string        `mapstructure:"channel_prefix"`
	} `mapstructure:"redis"`

	JWT struct {
		Secret   string        `mapstructure:"secret"`
		Issuer   string        `mapstructure:"issuer"`
		TokenTTL time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"jwt"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Payments struct {
		PayTypes         []string      `mapstructure:"pay_types"`
		DefaultWTaxCode  string        `mapstructure:"default_wtax_code"`
		NumberPrefix     string        `mapstructure:"number_prefix"`
		OperationTimeout time.Duration `mapstructure:"operation_timeout"`
		ShopName         string        `mapstructure:"shop_name"`
		RemitRole        string        `mapstructure:"remit_role"`
		Retry            struct {
			MaxAttempts    int           `mapstructure:"max_attempts"`
			InitialBackoff time.Duration `mapstructure:"initial_backoff"`
			MaxBackoff     time.Duration `mapstructure:"max_backoff"`
		} `mapstructure:"retry"`
	} `mapstructure:"payments"`

	Idempotency struct {
		Enabled bool          `mapstructure:"enabled"`
		TTL     time.Duration `mapstructure:"ttl"`
	} `mapstructure:"idempotency"`

	Outbox struct {
		BatchSize        int           `mapstructure:"batch_size"`
		PollInterval     time.Duration `mapstructure:"poll_interval"`
		PurgeAfter       time.Duration `mapstructure:"purge_after"`
		CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
		AuditCompressMin int           `mapstructure:"audit_compress_min"`
	} `mapstructure:"outbox"`
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load reads configuration. file may be empty; a missing file is not an
// error. Environment variables use upper-case keys with dots replaced by
// underscores, e.g. DATABASE_DSN or PAYMENTS_DEFAULT_WTAX_CODE.
func Load(file string) (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Lists arrive from the environment as comma-separated strings.
	cfg.Payments.PayTypes = splitList(cfg.Payments.PayTypes)
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check_period", time.Minute)
	v.SetDefault("database.statement_timeout", 30*time.Second)
	v.SetDefault("database.lock_timeout", 5*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("redis.channel_prefix", "paydesk.events.")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "paydesk")
	v.SetDefault("jwt.token_ttl", 12*time.Hour)

	v.SetDefault("log.level", "info")

	v.SetDefault("payments.pay_types", []string{"Cash", "Check", "Bank Transfer", "GCash", "Credit Card"})
	v.SetDefault("payments.default_wtax_code", "V2")
	v.SetDefault("payments.number_prefix", "PAY")
	v.SetDefault("payments.operation_timeout", 10*time.Second)
	v.SetDefault("payments.shop_name", "")
	v.SetDefault("payments.remit_role", "")
	v.SetDefault("payments.retry.max_attempts", 3)
	v.SetDefault("payments.retry.initial_backoff", 50*time.Millisecond)
	v.SetDefault("payments.retry.max_backoff", time.Second)

	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.ttl", 24*time.Hour)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.purge_after", 7*24*time.Hour)
	v.SetDefault("outbox.cleanup_interval", time.Hour)
	v.SetDefault("outbox.audit_compress_min", 4096)
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret (JWT_SECRET) is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive, got %d", c.Server.Port)
	}
	if c.Payments.OperationTimeout <= 0 {
		return errors.New("payments.operation_timeout must be positive")
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}
