package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/grouptalk/internal/limiter"
)

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GT_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":60033", cfg.Addr)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, "GeminiBot", cfg.BotName)
	require.Equal(t, 24*time.Hour, cfg.SessionTTL)
	require.Equal(t, int64(64<<10), cfg.MaxMessageSize)
	require.Equal(t, 168*time.Hour, cfg.MessageTTL)
	require.Equal(t, 500, cfg.MessageLimit)
	require.Equal(t, limiter.DefaultPolicy, cfg.LoginPolicy())
	require.False(t, cfg.Debug())
}

func TestLoad_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GT_STORE", "postgres")
	t.Setenv("GT_DATABASE_DSN", "postgres://u:p@localhost/gt")
	t.Setenv("GT_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("GT_RATE_INTERVAL", "250ms")
	t.Setenv("GT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, 250*time.Millisecond, cfg.RateInterval)
	require.True(t, cfg.Debug())
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn": {"GT_STORE": "postgres"},
		"unknown store":        {"GT_STORE": "redis"},
		"tls without key":      {"GT_STORE": "memory", "GT_TLS_ENABLED": "true", "GT_TLS_KEY": ""},
		"zero burst":           {"GT_STORE": "memory", "GT_RATE_BURST": "0"},
		"bad duration":         {"GT_STORE": "memory", "GT_SESSION_TTL": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
