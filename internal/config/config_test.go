package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, 10*time.Second, cfg.SyncInterval)
	assert.Equal(t, 24*time.Hour, cfg.QuizReapAfter)
	assert.Equal(t, 3, cfg.AIMaxAttempts)
	assert.Equal(t, "domain_events", cfg.RabbitQueue)
}

func TestParse_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("SYNC_INTERVAL", "250ms")
	t.Setenv("AI_MAX_ATTEMPTS", "5")
	t.Setenv("WORKER_CONCURRENCY", "500")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DBDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.SyncInterval)
	assert.Equal(t, 5, cfg.AIMaxAttempts)
	assert.Equal(t, 50, cfg.WorkerConcurrency)

	t.Setenv("SYNC_INTERVAL", "soon")
	_, err = Parse()
	assert.Error(t, err)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
