// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/app"
	"github.com/JakeFAU/clip-harvester/internal/config"
	"github.com/JakeFAU/clip-harvester/internal/harvest"
)

func memoryConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		CLIP: config.CLIPConfig{
			BaseURL:           baseURL,
			TimeoutSeconds:    5,
			RequestsPerSecond: 0,
		},
		DB:      config.DBConfig{Backend: config.BackendMemory},
		Harvest: config.HarvestConfig{Workers: 2, ItemTimeoutSeconds: 5, MaxRetries: 1},
		Store:   config.StoreConfig{ClassCacheLimit: 100},
		Archive: config.ArchiveConfig{Provider: config.ArchiveNone, Prefix: "raw"},
	}
}

func TestNewWithMemoryBackend(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), memoryConfig(t, "http://clip.invalid"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Harvester())
	require.NotNil(t, a.Directory())
	require.NotNil(t, a.Logger())
	require.Equal(t, config.BackendMemory, a.Config().DB.Backend)
	require.NoError(t, a.Migrate(context.Background()))
	require.False(t, a.Harvester().Status().Running)
}

func TestPrepareLoadsCachesWithoutCredentials(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), memoryConfig(t, "http://clip.invalid"), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Prepare(context.Background()))
	// Seeded periods are visible once the caches are warm.
	require.NotEmpty(t, a.Directory().PeriodsForMonth(time.October))
}

func TestPrepareLogsIn(t *testing.T) {
	t.Parallel()

	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		_, _ = w.Write([]byte("<html><body>bem-vindo</body></html>"))
	}))
	t.Cleanup(srv.Close)

	cfg := memoryConfig(t, srv.URL)
	cfg.CLIP.Username = "aluno"
	cfg.CLIP.Password = "segredo"
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Prepare(context.Background()))
	require.Equal(t, int32(1), posts.Load())
}

func TestNewWithLocalArchive(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive")
	cfg := memoryConfig(t, "http://clip.invalid")
	cfg.Archive = config.ArchiveConfig{Provider: config.ArchiveLocal, BaseDir: dir, Prefix: "raw"}

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRejectsBadProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "unknown backend",
			mutate: func(c *config.Config) { c.DB.Backend = "sqlite" },
			want:   "unknown db backend",
		},
		{
			name: "malformed dsn",
			mutate: func(c *config.Config) {
				c.DB = config.DBConfig{Backend: config.BackendPostgres, DSN: "postgres://%zz"}
			},
			want: "failed to initialize database",
		},
		{
			name:   "unknown archive",
			mutate: func(c *config.Config) { c.Archive.Provider = "s3" },
			want:   "unknown archive provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := memoryConfig(t, "http://clip.invalid")
			tt.mutate(&cfg)
			_, err := app.New(context.Background(), cfg, nil)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestHarvesterRejectsUnknownPhases(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), memoryConfig(t, "http://clip.invalid"), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Harvester().Run(context.Background(), harvest.Phase("grades"))
	require.ErrorContains(t, err, "unknown phase")
}
