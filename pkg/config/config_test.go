package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ":8443", cfg.Listen)
	require.Equal(t, "127.0.0.1:8444", cfg.AdminListen)
	require.Equal(t, 300, cfg.Pairing.CodeTTL)
	require.Equal(t, 365*24*3600, cfg.Pairing.TokenTTL)
	require.Equal(t, 5, cfg.RateLimit.MaxFailures)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen: ":9443"
advertise_host: "192.168.1.20"
pairing:
  code_ttl_s: 120
rate_limit:
  max_failures: 3
logging:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9443", cfg.Listen)
	require.Equal(t, "192.168.1.20", cfg.AdvertiseHost)
	require.Equal(t, 120, cfg.Pairing.CodeTTL)
	require.Equal(t, 3, cfg.RateLimit.MaxFailures)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Logging.JSON)

	// Fields the file does not set keep their defaults.
	require.Equal(t, "127.0.0.1:8444", cfg.AdminListen)
	require.Equal(t, 60, cfg.RateLimit.Window)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8443", cfg.Listen)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAIRLOCK_LISTEN", ":7443")
	t.Setenv("PAIRLOCK_ADMIN_TOKEN", "env-token")
	t.Setenv("PAIRLOCK_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7443", cfg.Listen)
	require.Equal(t, "env-token", cfg.AdminToken)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	require.ErrorIs(t, cfg.Validate(), ErrMissingListen)

	cfg = DefaultConfig()
	cfg.AdminListen = "0.0.0.0:8444"
	require.ErrorIs(t, cfg.Validate(), ErrAdminNotLoopback)

	cfg = DefaultConfig()
	cfg.AdminListen = ":8444"
	require.ErrorIs(t, cfg.Validate(), ErrAdminNotLoopback)

	for _, ok := range []string{"127.0.0.1:8444", "localhost:8444", "[::1]:8444"} {
		cfg = DefaultConfig()
		cfg.AdminListen = ok
		require.NoError(t, cfg.Validate(), ok)
	}

	// An explicitly empty admin bind falls back to loopback rather than
	// handing http.Server an empty Addr.
	cfg = DefaultConfig()
	cfg.AdminListen = ""
	require.NoError(t, cfg.Validate())
	require.Equal(t, "127.0.0.1:8444", cfg.AdminListen)
}

func TestValidateNormalizesZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pairing.CodeTTL = 0
	cfg.RateLimit.MaxFailures = -1
	cfg.Limits.MaxBodyBytes = 0
	cfg.Tracing.SampleRatio = 7

	require.NoError(t, cfg.Validate())
	require.Equal(t, 300, cfg.Pairing.CodeTTL)
	require.Equal(t, 5, cfg.RateLimit.MaxFailures)
	require.EqualValues(t, 1<<20, cfg.Limits.MaxBodyBytes)
	require.EqualValues(t, 1, cfg.Tracing.SampleRatio)
}
