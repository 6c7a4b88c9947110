package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "v1", cfg.Version)
	assert.Equal(t, "bolt", cfg.Backend)
	assert.Equal(t, []string{"/api/"}, cfg.APIPaths)
	assert.Contains(t, cfg.Precache, "/offline")
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
	assert.NotEmpty(t, cfg.DBPath)
	assert.NotEmpty(t, cfg.Socket)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SW_CACHE_ORIGIN", "https://blog.example.com/")
	t.Setenv("SW_CACHE_VERSION", "v5")
	t.Setenv("SW_CACHE_API_HOSTS", "api.example.com,cdn-api.example.com")
	t.Setenv("SW_CACHE_BACKEND", "memory")
	t.Setenv("SW_CACHE_MESSAGE_TOKEN", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "v5", cfg.Version)
	assert.Equal(t, []string{"api.example.com", "cdn-api.example.com"}, cfg.APIHosts)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "s3cret", cfg.MessageToken)
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("SW_CACHE_REQUEST_TIMEOUT", "soon")

	var cfg Config
	err := ParseEnv(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	base := Config{Origin: "http://localhost:3000", Version: "v1", Backend: "bolt", APIPrefix: "/api"}
	require.NoError(t, base.Validate())

	bad := base
	bad.Origin = "ftp://example.com"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Backend = "etcd"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Version = " "
	assert.Error(t, bad.Validate())

	bad = base
	bad.APIOrigin = "https://api.example.com"
	bad.APIPrefix = "api"
	assert.Error(t, bad.Validate())
}
