package config_test

import (
	"testing"
	"time"

	"github.com/dontdude/goscribe/internal/config"

	"github.com/stretchr/testify/require"
)

// Tests in this file use t.Setenv and cannot run in parallel.

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "NSTATES", "TMP_DIR", "REDIS_ADDR", "CONVERTER", "LOG_FORMAT",
		"TRANSLATE", "MAX_UPLOAD_BYTES", "SHUTDOWN_TIMEOUT", "RATE_LIMIT", "RATE_BURST", "THREADS",
		"MODEL_PATH", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Port)
	require.Equal(t, ":5000", cfg.Addr())
	require.Equal(t, 1, cfg.States)
	require.Equal(t, "./models/ggml-large.bin", cfg.ModelPath)
	require.Equal(t, "./tmpfiles", cfg.TmpDir)
	require.True(t, cfg.Translate)
	require.Equal(t, int64(2147483648), cfg.MaxUploadBytes)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, config.ConverterExec, cfg.Converter)
	require.InDelta(t, 0.5, cfg.RateLimit, 1e-9)
	require.Equal(t, 5, cfg.RateBurst)
	require.Empty(t, cfg.RedisAddr)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("NSTATES", "4")
	t.Setenv("TRANSLATE", "false")
	t.Setenv("CONVERTER", "docker")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 4, cfg.States)
	require.False(t, cfg.Translate)
	require.Equal(t, config.ConverterDocker, cfg.Converter)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, "text", cfg.LogFormat)
}

func TestLoadInvalid(t *testing.T) {
	var testCases = []struct {
		scenario string
		key      string
		value    string
		then     string
	}{
		{"not a number", "NSTATES", "two", "NSTATES"},
		{"zero states", "NSTATES", "0", "at least 1"},
		{"bad duration", "SHUTDOWN_TIMEOUT", "30", "SHUTDOWN_TIMEOUT"},
		{"bad bool", "TRANSLATE", "maybe", "TRANSLATE"},
		{"unknown converter", "CONVERTER", "sox", "CONVERTER"},
		{"port out of range", "PORT", "70000", "out of range"},
		{"negative threads", "THREADS", "-1", "THREADS"},
		{"unknown log format", "LOG_FORMAT", "xml", "LOG_FORMAT"},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := config.Load()
			require.ErrorContains(t, err, tc.then)
		})
	}
}

func TestLoadReportsEveryError(t *testing.T) {
	t.Setenv("NSTATES", "x")
	t.Setenv("PORT", "y")
	_, err := config.Load()
	require.ErrorContains(t, err, "NSTATES")
	require.ErrorContains(t, err, "PORT")
}
