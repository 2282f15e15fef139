package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/clip-harvester/internal/harvest"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
clip:
  base_url: https://clip.example.test
  username: aluno
  user_agent: test-agent
  timeout_seconds: 10
  requests_per_second: 2.5
  burst: 3
db:
  backend: memory
harvest:
  workers: 8
  item_timeout_seconds: 60
  progress_interval_seconds: 2
  max_retries: 4
  phases: [turns, enrollments]
store:
  class_cache_limit: 500
archive:
  provider: local
  base_dir: /tmp/clip-archive
  prefix: docs
pubsub:
  project_id: clip-project
  topic_name: harvest
server:
  enabled: true
  port: 9090
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://clip.example.test", cfg.CLIP.BaseURL)
	require.Equal(t, "aluno", cfg.CLIP.Username)
	require.Equal(t, 10*time.Second, cfg.CLIP.Timeout())
	require.InDelta(t, 2.5, cfg.CLIP.RequestsPerSecond, 1e-9)
	require.Equal(t, 3, cfg.CLIP.Burst)
	require.Equal(t, BackendMemory, cfg.DB.Backend)
	require.Equal(t, 8, cfg.Harvest.Workers)
	require.Equal(t, time.Minute, cfg.Harvest.ItemTimeout())
	require.Equal(t, 2*time.Second, cfg.Harvest.ProgressInterval())
	require.Equal(t, 4, cfg.Harvest.MaxRetries)
	phases, err := cfg.Harvest.ParsedPhases()
	require.NoError(t, err)
	require.Equal(t, []harvest.Phase{harvest.PhaseTurns, harvest.PhaseEnrollments}, phases)
	require.Equal(t, 500, cfg.Store.ClassCacheLimit)
	require.Equal(t, ArchiveLocal, cfg.Archive.Provider)
	require.Equal(t, "/tmp/clip-archive", cfg.Archive.BaseDir)
	require.Equal(t, "clip-project", cfg.PubSub.ProjectID)
	require.True(t, cfg.Server.Enabled)
	require.Equal(t, 9090, cfg.Server.Port)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
}

// Environment overrides are process wide, so this test is not parallel.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_DB_BACKEND", "memory")
	t.Setenv("HARVESTER_CLIP_PASSWORD", "segredo")
	t.Setenv("HARVESTER_HARVEST_WORKERS", "3")
	t.Setenv("HARVESTER_ARCHIVE_PROVIDER", "gcs")
	t.Setenv("HARVESTER_ARCHIVE_GCS_BUCKET", "clip-archive")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "segredo", cfg.CLIP.Password)
	require.Equal(t, 3, cfg.Harvest.Workers)
	require.Equal(t, ArchiveGCS, cfg.Archive.Provider)
	require.Equal(t, "clip-archive", cfg.Archive.GCSBucket)
	require.Equal(t, "https://clip.unl.pt", cfg.CLIP.BaseURL)
	require.Equal(t, 10000, cfg.Store.ClassCacheLimit)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestParsePhasesAcceptsCommaLists(t *testing.T) {
	t.Parallel()

	phases, err := ParsePhases([]string{"institutions, departments", "turns"})
	require.NoError(t, err)
	require.Equal(t, []harvest.Phase{harvest.PhaseInstitutions, harvest.PhaseDepartments, harvest.PhaseTurns}, phases)

	_, err = ParsePhases([]string{"grades"})
	require.ErrorContains(t, err, "unknown phase")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		CLIP:    CLIPConfig{BaseURL: "https://clip.unl.pt", TimeoutSeconds: 30},
		DB:      DBConfig{Backend: BackendMemory},
		Harvest: HarvestConfig{Workers: 4},
		Store:   StoreConfig{ClassCacheLimit: 100},
		Archive: ArchiveConfig{Provider: ArchiveNone},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "empty base url", mutate: func(c *Config) { c.CLIP.BaseURL = "" }, want: "clip.base_url"},
		{name: "zero timeout", mutate: func(c *Config) { c.CLIP.TimeoutSeconds = 0 }, want: "clip.timeout_seconds"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DB.Backend = BackendPostgres }, want: "db.dsn"},
		{name: "unknown backend", mutate: func(c *Config) { c.DB.Backend = "sqlite" }, want: "db.backend"},
		{name: "zero workers", mutate: func(c *Config) { c.Harvest.Workers = 0 }, want: "harvest.workers"},
		{name: "negative retries", mutate: func(c *Config) { c.Harvest.MaxRetries = -1 }, want: "harvest.max_retries"},
		{name: "unknown phase", mutate: func(c *Config) { c.Harvest.Phases = []string{"grades"} }, want: "harvest.phases"},
		{name: "zero class cache", mutate: func(c *Config) { c.Store.ClassCacheLimit = 0 }, want: "store.class_cache_limit"},
		{name: "unknown archive", mutate: func(c *Config) { c.Archive.Provider = "s3" }, want: "archive.provider"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Provider = ArchiveGCS }, want: "archive.gcs_bucket"},
		{
			name:   "local without dir",
			mutate: func(c *Config) { c.Archive = ArchiveConfig{Provider: ArchiveLocal} },
			want:   "archive.base_dir",
		},
		{name: "pubsub without topic", mutate: func(c *Config) { c.PubSub.ProjectID = "p" }, want: "pubsub.topic_name"},
		{
			name:   "server without port",
			mutate: func(c *Config) { c.Server = ServerConfig{Enabled: true} },
			want:   "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
