// Package config loads server and client settings from a YAML file and
// AANGAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	DB        DBConfig        `mapstructure:"db"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Push      PushConfig      `mapstructure:"push"`
	Retention RetentionConfig `mapstructure:"retention"`
	Reactions ReactionsConfig `mapstructure:"reactions"`
	Offline   OfflineConfig   `mapstructure:"offline"`
	Log       LogConfig       `mapstructure:"log"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type EmbeddingConfig struct {
	Provider      string        `mapstructure:"provider"`
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Dims          int           `mapstructure:"dims"`
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type VectorConfig struct {
	Backend    string `mapstructure:"backend"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	Overfetch  int    `mapstructure:"overfetch"`
}

type PushConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	Channel   string `mapstructure:"channel"`
}

type RetentionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

type ReactionsConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type OfflineConfig struct {
	GenerationPrefix string   `mapstructure:"generation_prefix"`
	Manifest         []string `mapstructure:"manifest"`
	CacheDir         string   `mapstructure:"cache_dir"`
	ServerURL        string   `mapstructure:"server_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultDir is ~/.aangan.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".aangan")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", filepath.Join(DefaultDir(), "aangan.db"))

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dims", 384)
	v.SetDefault("embedding.workers", 2)
	v.SetDefault("embedding.queue_size", 256)
	v.SetDefault("embedding.rate_per_second", 5.0)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("vector.backend", "sqlite")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "whispers")
	v.SetDefault("vector.overfetch", 4)

	v.SetDefault("push.redis_addr", "")
	v.SetDefault("push.channel", "aangan:push")

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.cron", "*/15 * * * *")

	v.SetDefault("reactions.rate_per_second", 2.0)
	v.SetDefault("reactions.burst", 10)

	v.SetDefault("offline.generation_prefix", "aangan")
	v.SetDefault("offline.manifest", []string{"/", "/manifest.json", "/offline.html", "/icon.svg"})
	v.SetDefault("offline.cache_dir", filepath.Join(DefaultDir(), "cache"))
	v.SetDefault("offline.server_url", "http://localhost:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from path (optional) and the environment.
// AANGAN_DB_PATH overrides db.path, and so on for every key.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AANGAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}
	return &cfg, nil
}

// Check rejects configurations the server cannot run with.
func (c *Config) Check() error {
	var errs []error
	if c.Embedding.Dims <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dims must be positive, got %d", c.Embedding.Dims))
	}
	switch c.Vector.Backend {
	case "", "sqlite", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("unknown vector.backend %q (use sqlite or qdrant)", c.Vector.Backend))
	}
	switch c.Embedding.Provider {
	case "", "none", "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q (use ollama or openai)", c.Embedding.Provider))
	}
	if c.Retention.Enabled && !gronx.IsValid(c.Retention.Cron) {
		errs = append(errs, fmt.Errorf("invalid retention.cron %q", c.Retention.Cron))
	}
	return errors.Join(errs...)
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		warnings = append(warnings, "embedding provider 'openai' is configured but api_key is empty")
	}
	if c.Embedding.Provider == "" || c.Embedding.Provider == "none" {
		if c.Vector.Backend == "qdrant" {
			warnings = append(warnings, "vector.backend is qdrant but no embedding provider is configured; only explicit PUT embeddings will be indexed")
		}
	}
	if c.Embedding.RatePerSecond < 0 {
		warnings = append(warnings, fmt.Sprintf("embedding rate_per_second %.2f is negative; treated as unlimited", c.Embedding.RatePerSecond))
	}
	if c.Vector.Overfetch > 20 {
		warnings = append(warnings, fmt.Sprintf("vector.overfetch %d is unusually large", c.Vector.Overfetch))
	}
	if len(c.Offline.Manifest) == 0 {
		warnings = append(warnings, "offline.manifest is empty; clients will cache nothing at install")
	}
	return warnings
}
