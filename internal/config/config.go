// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/neomorfeo/tenantplane/internal/adapter/otel"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Tenants   TenantsConfig   `mapstructure:"tenants"`
	Search    SearchConfig    `mapstructure:"search"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RegistryConfig locates the SQLite database holding the tenant registry and job queue.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

type TenantsConfig struct {
	BaseDomain     string   `mapstructure:"base_domain"`
	CentralDomains []string `mapstructure:"central_domains"`
	// DatabaseURL points at the PostgreSQL server that hosts tenant databases. The
	// connection must be allowed to create and drop databases.
	DatabaseURL      string `mapstructure:"database_url"`
	ProvisionWorkers int    `mapstructure:"provision_workers"`
}

type SearchConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig configures the resolver cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NATSConfig configures the event relay. An empty URL keeps events in the job log only.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type TelemetryConfig struct {
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Environment    string        `mapstructure:"environment"`
	Exporter       string        `mapstructure:"exporter"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// OTel converts the telemetry settings for the provider setup.
func (c TelemetryConfig) OTel() otel.Config {
	return otel.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		Exporter:       c.Exporter,
		Insecure:       c.Environment == "development",
		SampleRatio:    c.SampleRatio,
		MetricInterval: c.MetricInterval,
	}
}

// Load reads .env files when present, then the environment. Variables already set in the
// environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Tenants.CentralDomains = splitList(cfg.Tenants.CentralDomains)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Server.Port))
	}
	if !domain.IsValidHostname(c.Tenants.BaseDomain) {
		errs = append(errs, fmt.Errorf("BASE_DOMAIN %q is not a valid hostname", c.Tenants.BaseDomain))
	}
	if c.Tenants.DatabaseURL == "" {
		errs = append(errs, errors.New("TENANT_DATABASE_URL is required"))
	}
	if c.Tenants.ProvisionWorkers <= 0 {
		errs = append(errs, fmt.Errorf("PROVISION_WORKERS must be positive, got %d", c.Tenants.ProvisionWorkers))
	}
	if c.Search.URL == "" {
		errs = append(errs, errors.New("TYPESENSE_URL is required"))
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		errs = append(errs, fmt.Errorf("RESOLVER_CACHE_TTL must be positive, got %s", c.Redis.TTL))
	}
	if c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be in (0, 1], got %v", c.Telemetry.SampleRatio))
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp", "none":
	default:
		errs = append(errs, fmt.Errorf("OTEL_EXPORTER %q is not one of stdout, otlp, none", c.Telemetry.Exporter))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("registry.path", "tenantplane.db")

	v.SetDefault("tenants.base_domain", "localhost")
	v.SetDefault("tenants.central_domains", []string{"localhost", "127.0.0.1"})
	v.SetDefault("tenants.provision_workers", 4)

	v.SetDefault("search.url", "http://localhost:8108")
	v.SetDefault("search.timeout", "5s")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "30s")

	v.SetDefault("telemetry.service_name", "tenantplane")
	v.SetDefault("telemetry.service_version", "0.1.0")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metric_interval", "60s")

	v.SetDefault("logging.level", "info")
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":               "PORT",
		"server.shutdown_timeout":   "SHUTDOWN_TIMEOUT",
		"registry.path":             "DATABASE_PATH",
		"tenants.base_domain":       "BASE_DOMAIN",
		"tenants.central_domains":   "CENTRAL_DOMAINS",
		"tenants.database_url":      "TENANT_DATABASE_URL",
		"tenants.provision_workers": "PROVISION_WORKERS",
		"search.url":                "TYPESENSE_URL",
		"search.api_key":            "TYPESENSE_API_KEY",
		"search.timeout":            "TYPESENSE_TIMEOUT",
		"redis.addr":                "REDIS_ADDR",
		"redis.password":            "REDIS_PASSWORD",
		"redis.db":                  "REDIS_DB",
		"redis.ttl":                 "RESOLVER_CACHE_TTL",
		"nats.url":                  "NATS_URL",
		"telemetry.service_name":    "OTEL_SERVICE_NAME",
		"telemetry.service_version": "OTEL_SERVICE_VERSION",
		"telemetry.environment":     "OTEL_ENVIRONMENT",
		"telemetry.exporter":        "OTEL_EXPORTER",
		"telemetry.sample_ratio":    "OTEL_TRACES_SAMPLE_RATIO",
		"telemetry.metric_interval": "OTEL_METRIC_INTERVAL",
		"logging.level":             "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("binding %s: %w", env, err)
		}
	}
	return nil
}

// splitList trims entries and drops empty ones. It also splits entries that still carry
// commas, which happens when a list comes from a single environment variable.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for part := range strings.SplitSeq(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
