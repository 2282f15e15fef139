// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/clip-harvester/internal/harvest"
	"github.com/JakeFAU/clip-harvester/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_CLIP_PASSWORD.
const EnvPrefix = "HARVESTER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	CLIP    CLIPConfig     `mapstructure:"clip"`
	DB      DBConfig       `mapstructure:"db"`
	Harvest HarvestConfig  `mapstructure:"harvest"`
	Store   StoreConfig    `mapstructure:"store"`
	Archive ArchiveConfig  `mapstructure:"archive"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Server  ServerConfig   `mapstructure:"server"`
	Logging logging.Config `mapstructure:"logging"`
}

// CLIPConfig addresses the upstream and paces requests to it.
type CLIPConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Username          string  `mapstructure:"username"`
	Password          string  `mapstructure:"password"`
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Timeout is the per-request timeout.
func (c CLIPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Database backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// DBConfig controls access to the relational database.
type DBConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	// Migrate applies the schema before harvesting.
	Migrate bool `mapstructure:"migrate"`
}

// HarvestConfig tunes the worker pools.
type HarvestConfig struct {
	Workers                 int      `mapstructure:"workers"`
	ItemTimeoutSeconds      int      `mapstructure:"item_timeout_seconds"`
	ProgressIntervalSeconds int      `mapstructure:"progress_interval_seconds"`
	MaxRetries              int      `mapstructure:"max_retries"`
	Phases                  []string `mapstructure:"phases"`
}

// ItemTimeout bounds one work item. Zero disables the bound.
func (c HarvestConfig) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutSeconds) * time.Second
}

// ProgressInterval spaces the "items remaining" log lines.
func (c HarvestConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalSeconds) * time.Second
}

// ParsedPhases validates the configured phase names. Empty means every phase.
func (c HarvestConfig) ParsedPhases() ([]harvest.Phase, error) {
	return ParsePhases(c.Phases)
}

// ParsePhases validates phase names, accepting comma separated entries.
func ParsePhases(names []string) ([]harvest.Phase, error) {
	var out []harvest.Phase
	for _, raw := range names {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			p, err := harvest.ParsePhase(name)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// StoreConfig sizes the entity caches.
type StoreConfig struct {
	ClassCacheLimit int `mapstructure:"class_cache_limit"`
}

// Archive providers.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// ArchiveConfig selects where documents that failed extraction are kept.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the phase event destination. Events are only logged without a project.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("clip.base_url", "https://clip.unl.pt")
	v.SetDefault("clip.username", "")
	v.SetDefault("clip.password", "")
	v.SetDefault("clip.user_agent", "clip-harvester/0.1")
	v.SetDefault("clip.timeout_seconds", 30)
	v.SetDefault("clip.requests_per_second", 5.0)
	v.SetDefault("clip.burst", 5)
	v.SetDefault("db.backend", BackendPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.migrate", false)
	v.SetDefault("harvest.workers", 20)
	v.SetDefault("harvest.item_timeout_seconds", 300)
	v.SetDefault("harvest.progress_interval_seconds", 5)
	v.SetDefault("harvest.max_retries", 2)
	v.SetDefault("harvest.phases", []string{})
	v.SetDefault("store.class_cache_limit", 10000)
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "harvest-events")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.CLIP.BaseURL == "" {
		return errors.New("clip.base_url is required")
	}
	if c.CLIP.TimeoutSeconds <= 0 {
		return errors.New("clip.timeout_seconds must be > 0")
	}
	if c.CLIP.RequestsPerSecond < 0 {
		return errors.New("clip.requests_per_second must be >= 0")
	}
	switch c.DB.Backend {
	case BackendPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("db.backend %q must be %s or %s", c.DB.Backend, BackendPostgres, BackendMemory)
	}
	if c.Harvest.Workers <= 0 {
		return errors.New("harvest.workers must be > 0")
	}
	if c.Harvest.ItemTimeoutSeconds < 0 {
		return errors.New("harvest.item_timeout_seconds must be >= 0")
	}
	if c.Harvest.MaxRetries < 0 {
		return errors.New("harvest.max_retries must be >= 0")
	}
	if _, err := c.Harvest.ParsedPhases(); err != nil {
		return fmt.Errorf("harvest.phases: %w", err)
	}
	if c.Store.ClassCacheLimit <= 0 {
		return errors.New("store.class_cache_limit must be > 0")
	}
	switch c.Archive.Provider {
	case ArchiveNone:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return errors.New("archive.base_dir is required for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return errors.New("archive.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.provider %q must be one of none, local, gcs", c.Archive.Provider)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return errors.New("pubsub.topic_name is required when pubsub.project_id is set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	return nil
}
