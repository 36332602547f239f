// Package config loads the monitoring engine's configuration from an
// optional JSON file plus environment variable overrides, following the
// base repo's layered Load -> loadFromFile -> applyEnvOverrides shape.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	CacheURL         string `json:"cache_url"`
	StoreURL         string `json:"store_url"`
	SchedulerPeriod  string `json:"scheduler_period"`
	PriceTTL         int    `json:"price_ttl"`
	CandleTTL        int    `json:"candle_ttl"`
	EnableScheduler  bool   `json:"enable_scheduler"`
	ProviderOrder    string `json:"provider_order"`
	DefaultQuote     string `json:"default_quote"`
	MonitoringAPIKey string `json:"monitoring_api_key"`
	HTTPAddr         string `json:"http_addr"`

	Logging LoggingConfig `json:"logging"`
	Vault   VaultConfig   `json:"vault"`
	Redis   RedisConfig   `json:"redis"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// VaultConfig mirrors the base repo's Vault configuration, now backing
// provider credential storage instead of per-user exchange API keys.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// SchedulerPeriodDuration parses SchedulerPeriod, falling back to 5s for
// an empty or unparseable value.
func (c *Config) SchedulerPeriodDuration() time.Duration {
	if c.SchedulerPeriod == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.SchedulerPeriod)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	fileLoaded := err == nil
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg, fileLoaded)

	if cfg.CacheURL == "" {
		return nil, fmt.Errorf("config: CACHE_URL is required")
	}
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("config: STORE_URL is required")
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to cfg; these
// take precedence over whatever loadFromFile populated. fileLoaded
// indicates whether config.json was read successfully: when it was, a
// bool field's file value is the default an unset env var falls back
// to, so e.g. `"enable_scheduler": false` in config.json is not
// silently overridden by this function's own hardcoded default.
func applyEnvOverrides(cfg *Config, fileLoaded bool) {
	cfg.CacheURL = getEnvOrDefault("CACHE_URL", cfg.CacheURL)
	cfg.StoreURL = getEnvOrDefault("STORE_URL", cfg.StoreURL)
	cfg.SchedulerPeriod = getEnvOrDefault("SCHEDULER_PERIOD", orDefault(cfg.SchedulerPeriod, "5s"))
	cfg.PriceTTL = getEnvIntOrDefault("PRICE_TTL", orDefaultInt(cfg.PriceTTL, 30))
	cfg.CandleTTL = getEnvIntOrDefault("CANDLE_TTL", orDefaultInt(cfg.CandleTTL, 60))
	cfg.EnableScheduler = getEnvBoolOrDefault("ENABLE_SCHEDULER", orDefaultBool(fileLoaded, cfg.EnableScheduler, true))
	cfg.ProviderOrder = getEnvOrDefault("PROVIDER_ORDER", orDefault(cfg.ProviderOrder, "binance,coingecko"))
	cfg.DefaultQuote = getEnvOrDefault("DEFAULT_QUOTE", orDefault(cfg.DefaultQuote, "usd"))
	cfg.MonitoringAPIKey = getEnvOrDefault("MONITORING_API_KEY", cfg.MonitoringAPIKey)
	cfg.HTTPAddr = getEnvOrDefault("HTTP_ADDR", orDefault(cfg.HTTPAddr, ":8080"))

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.Logging.Level, "INFO"))
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", orDefault(cfg.Logging.Output, "stdout"))
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", orDefaultBool(fileLoaded, cfg.Logging.JSONFormat, true))
	cfg.Logging.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", orDefaultBool(fileLoaded, cfg.Logging.IncludeFile, false))

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", orDefaultBool(fileLoaded, cfg.Vault.Enabled, false))
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", orDefault(cfg.Vault.Address, "http://localhost:8200"))
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orDefault(cfg.Vault.MountPath, "secret"))
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orDefault(cfg.Vault.SecretPath, "strategy-monitor/providers"))
	cfg.Vault.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", orDefaultBool(fileLoaded, cfg.Vault.TLSEnabled, false))

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", orDefaultBool(fileLoaded, cfg.Redis.Enabled, true))
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orDefaultInt(cfg.Redis.PoolSize, 10))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// orDefaultBool resolves the default a bool env override falls back to:
// the value config.json already set, if it was loaded, otherwise def.
func orDefaultBool(fileLoaded bool, v, def bool) bool {
	if fileLoaded {
		return v
	}
	return def
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing config file: %w", err)
	}
	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}
