package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ModeOffline, cfg.Mode)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 8, cfg.GradebookWorkers)
	assert.True(t, cfg.MarkSuperseded)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:3010", "http://localhost:3020"}, cfg.CORSOrigins())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MODE", "ONLINE")
	t.Setenv("CORS_ORIGINS_ONLINE", "https://a.example, https://b.example ,")
	t.Setenv("GRADEBOOK_WORKERS", "0")
	t.Setenv("CACHE_TTL", "90s")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ModeOnline, cfg.Mode)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins())
	assert.Equal(t, 1, cfg.GradebookWorkers)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
}

func TestFromEnv_BadMode(t *testing.T) {
	t.Setenv("MODE", "hybrid")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(f, []byte("HTTP_ADDR_TEST_ONLY=1\nREDIS_DB=3\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("REDIS_DB"); os.Unsetenv("HTTP_ADDR_TEST_ONLY") })

	cfg, err := Load(f)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RedisDB)
}
