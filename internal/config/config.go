package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root client configuration struct
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// ServerConfig holds backend endpoint settings
type ServerConfig struct {
	BaseURL        string        `mapstructure:"baseURL"`
	HealthPath     string        `mapstructure:"healthPath"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
}

// StorageConfig holds the durable store settings
type StorageConfig struct {
	// Backend выбирает адаптер хранилища: "bolt" или "sqlite"
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// SyncConfig holds drain and connectivity settings
type SyncConfig struct {
	MaxRetries    int           `mapstructure:"maxRetries"`
	ProbeInterval time.Duration `mapstructure:"probeInterval"`
	DrainInterval time.Duration `mapstructure:"drainInterval"`
}

// CacheConfig holds read-cache settings
type CacheConfig struct {
	DefaultTTL    time.Duration `mapstructure:"defaultTTL"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

// Load читает конфигурацию: defaults, затем YAML файл (если задан),
// затем переменные окружения с префиксом FIELDSYNC.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.baseURL", "http://localhost:8080")
	v.SetDefault("server.healthPath", "/api/v1/health")
	v.SetDefault("server.requestTimeout", 30*time.Second)
	v.SetDefault("storage.backend", "bolt")
	v.SetDefault("storage.path", "fieldsync.db")
	v.SetDefault("sync.maxRetries", 5)
	v.SetDefault("sync.probeInterval", 30*time.Second)
	v.SetDefault("sync.drainInterval", 0)
	v.SetDefault("cache.defaultTTL", 5*time.Minute)
	v.SetDefault("cache.sweepInterval", 0)

	v.SetEnvPrefix("fieldsync")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}

	switch c.Storage.Backend {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("unsupported storage backend %q (want bolt or sqlite)", c.Storage.Backend)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.maxRetries must be positive")
	}

	return nil
}
