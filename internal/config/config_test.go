package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, "256MB", cfg.Cache.MaxMemory)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"256MB", 256 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"512kb", 512 * 1024, false},
		{"100B", 100, false},
		{"1.5MB", int64(1.5 * 1024 * 1024), false},
		{"4096", 4096, false},
		{"", 0, true},
		{"abcMB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, cacheerrors.ErrCodeConfiguration, cacheerrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "1.0GB", FormatSize(1024*1024*1024))
	assert.Equal(t, "256.0MB", FormatSize(256*1024*1024))
	assert.Equal(t, "1.5KB", FormatSize(1536))
	assert.Equal(t, "42B", FormatSize(42))
}

func TestApplyProfile(t *testing.T) {
	cfg := NewDefault()

	require.NoError(t, cfg.ApplyProfile("low-memory"))
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, "16MB", cfg.Cache.MaxMemory)

	err := cfg.ApplyProfile("galactic")
	require.Error(t, err)
	assert.Equal(t, cacheerrors.ErrCodeConfiguration, cacheerrors.CodeOf(err))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
cache:
  max_entries: 42
  max_memory: 8MB
  default_ttl: 2m
  version_aware_mode: true
security:
  encryption_enabled: true
  encryption_key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, 42, cfg.Cache.MaxEntries)
	assert.Equal(t, "8MB", cfg.Cache.MaxMemory)
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL)
	assert.True(t, cfg.Cache.VersionAware)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_Missing(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, cacheerrors.ErrCodeConfiguration, cacheerrors.CodeOf(err))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VAULTCACHE_MAX_ENTRIES", "777")
	t.Setenv("VAULTCACHE_MAX_MEMORY", "32MB")
	t.Setenv("VAULTCACHE_VERSION_AWARE", "true")

	cfg := NewDefault()
	cfg.LoadFromEnv()
	assert.Equal(t, 777, cfg.Cache.MaxEntries)
	assert.Equal(t, "32MB", cfg.Cache.MaxMemory)
	assert.True(t, cfg.Cache.VersionAware)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero entries", func(c *Configuration) { c.Cache.MaxEntries = 0 }},
		{"bad memory", func(c *Configuration) { c.Cache.MaxMemory = "lots" }},
		{"zero ttl", func(c *Configuration) { c.Cache.DefaultTTL = 0 }},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }},
		{"short key", func(c *Configuration) {
			c.Security.EncryptionEnabled = true
			c.Security.EncryptionKey = "abcd"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestAutoTune(t *testing.T) {
	cfg := NewDefault()
	cfg.Cache.MaxMemory = "16MB"
	cfg.Cache.CheckInterval = 0
	cfg.Cache.StatsInterval = 0

	cfg.AutoTune()
	assert.Equal(t, 10*time.Second, cfg.Cache.CheckInterval)
	assert.Equal(t, time.Second, cfg.Cache.StatsInterval)

	cfg.Cache.MaxMemory = "2GB"
	cfg.Cache.CheckInterval = 0
	cfg.AutoTune()
	assert.Equal(t, time.Minute, cfg.Cache.CheckInterval)
}

func TestEngineConfig(t *testing.T) {
	cfg := NewDefault()
	cfg.Cache.VersionAware = true

	engineCfg, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(256*1024*1024), engineCfg.MaxMemory)
	assert.Equal(t, 3600, engineCfg.DefaultTTLSeconds)
	assert.True(t, engineCfg.VersionAware)
	assert.Equal(t, 0.95, engineCfg.Thresholds.Critical)
}

func TestBuildSecurityComponents(t *testing.T) {
	cfg := NewDefault()

	enc, err := cfg.BuildEncryptor()
	require.NoError(t, err)
	assert.Nil(t, enc, "encryption disabled by default")

	ac, err := cfg.BuildAccessController()
	require.NoError(t, err)
	assert.Nil(t, ac, "access control disabled by default")

	cfg.Security.EncryptionEnabled = true
	cfg.Security.AccessControl = AccessControlSpec{
		Enabled:           true,
		AllowedOperations: []string{"GET", "set"},
	}

	enc, err = cfg.BuildEncryptor()
	require.NoError(t, err)
	assert.NotNil(t, enc)

	ac, err = cfg.BuildAccessController()
	require.NoError(t, err)
	assert.NotNil(t, ac)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	cfg := NewDefault()
	cfg.Cache.MaxEntries = 123

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded := NewDefault()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 123, loaded.Cache.MaxEntries)
}
