package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		debugOn  bool
		errorMsg string
	}{
		{name: "development", cfg: Config{Development: true}, debugOn: true},
		{name: "production", cfg: Config{}, debugOn: false},
		{name: "explicit level", cfg: Config{Development: true, Level: "warn"}, debugOn: false},
		{name: "bad level", cfg: Config{Level: "chatty"}, errorMsg: "parse log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := New(tt.cfg)
			if tt.errorMsg != "" {
				require.ErrorContains(t, err, tt.errorMsg)
				return
			}
			require.NoError(t, err)
			defer logger.Sync() //nolint:errcheck // best-effort flush
			require.Equal(t, tt.debugOn, logger.Core().Enabled(zap.DebugLevel))
		})
	}
}
