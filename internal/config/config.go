// Package config loads, validates, and tunes the vaultcache configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vaultcache/vaultcache/internal/cache"
	"github.com/vaultcache/vaultcache/internal/secure"
	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Security   SecurityConfig   `yaml:"security"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Profile   string `yaml:"profile"`
}

// CacheConfig represents the engine settings
type CacheConfig struct {
	MaxEntries        int           `yaml:"max_entries"`
	MaxMemory         string        `yaml:"max_memory"`
	DefaultTTL        time.Duration `yaml:"default_ttl"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	StatsInterval     time.Duration `yaml:"stats_interval"`
	PreciseSizing     bool          `yaml:"precise_memory_calculation"`
	VersionAware      bool          `yaml:"version_aware_mode"`
	NullValueTTL      time.Duration `yaml:"null_value_ttl"`
	PressureLow       float64       `yaml:"pressure_low"`
	PressureMedium    float64       `yaml:"pressure_medium"`
	PressureHigh      float64       `yaml:"pressure_high"`
	PressureCritical  float64       `yaml:"pressure_critical"`
}

// SecurityConfig represents encryption and access control settings
type SecurityConfig struct {
	EncryptionEnabled bool              `yaml:"encryption_enabled"`
	EncryptionKey     string            `yaml:"encryption_key"`
	SensitivePatterns []string          `yaml:"sensitive_patterns"`
	AccessControl     AccessControlSpec `yaml:"access_control"`
}

// AccessControlSpec mirrors the access controller inputs
type AccessControlSpec struct {
	Enabled            bool     `yaml:"enabled"`
	AllowedOperations  []string `yaml:"allowed_operations"`
	RestrictedKeys     []string `yaml:"restricted_keys"`
	RestrictedPatterns []string `yaml:"restricted_patterns"`
}

// MonitoringConfig represents metrics settings
type MonitoringConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	HitRateFloor   float64       `yaml:"hit_rate_floor"`
	MemoryCeiling  float64       `yaml:"memory_ceiling"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
			Profile:   "development",
		},
		Cache: CacheConfig{
			MaxEntries:       10000,
			MaxMemory:        "256MB",
			DefaultTTL:       time.Hour,
			CheckInterval:    30 * time.Second,
			StatsInterval:    time.Second,
			NullValueTTL:     300 * time.Second,
			PressureLow:      0.50,
			PressureMedium:   0.70,
			PressureHigh:     0.85,
			PressureCritical: 0.95,
		},
		Security: SecurityConfig{
			EncryptionEnabled: false,
		},
		Monitoring: MonitoringConfig{
			Enabled:        true,
			Port:           9180,
			UpdateInterval: 10 * time.Second,
			HitRateFloor:   0.25,
			MemoryCeiling:  0.90,
		},
	}
}

// profiles are named presets applied over the defaults.
var profiles = map[string]func(*Configuration){
	"development": func(c *Configuration) {
		c.Cache.MaxEntries = 1000
		c.Cache.MaxMemory = "64MB"
		c.Global.LogLevel = "DEBUG"
	},
	"production": func(c *Configuration) {
		c.Cache.MaxEntries = 100000
		c.Cache.MaxMemory = "1GB"
		c.Cache.PreciseSizing = false
		c.Global.LogLevel = "INFO"
		c.Global.LogFormat = "json"
	},
	"low-memory": func(c *Configuration) {
		c.Cache.MaxEntries = 500
		c.Cache.MaxMemory = "16MB"
		c.Cache.CheckInterval = 10 * time.Second
	},
}

// ApplyProfile overlays a named profile. Unknown names surface
// CONFIGURATION_ERROR.
func (c *Configuration) ApplyProfile(name string) error {
	apply, ok := profiles[name]
	if !ok {
		return cacheerrors.Newf(cacheerrors.ErrCodeConfiguration, "unknown profile %q", name)
	}
	apply(c)
	c.Global.Profile = name
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return cacheerrors.Newf(cacheerrors.ErrCodeConfiguration, "failed to read config file %s", filename).WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return cacheerrors.Newf(cacheerrors.ErrCodeConfiguration, "failed to parse config file %s", filename).WithCause(err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("VAULTCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("VAULTCACHE_PROFILE"); val != "" {
		c.Global.Profile = val
	}
	if val := os.Getenv("VAULTCACHE_MAX_ENTRIES"); val != "" {
		if entries, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxEntries = entries
		}
	}
	if val := os.Getenv("VAULTCACHE_MAX_MEMORY"); val != "" {
		c.Cache.MaxMemory = val
	}
	if val := os.Getenv("VAULTCACHE_DEFAULT_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.DefaultTTL = d
		}
	}
	if val := os.Getenv("VAULTCACHE_VERSION_AWARE"); val != "" {
		c.Cache.VersionAware = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("VAULTCACHE_ENCRYPTION_KEY"); val != "" {
		c.Security.EncryptionKey = val
		c.Security.EncryptionEnabled = true
	}
	if val := os.Getenv("VAULTCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.Port = port
		}
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return cacheerrors.New(cacheerrors.ErrCodeConfiguration, "failed to marshal config").WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return cacheerrors.New(cacheerrors.ErrCodeConfiguration, "failed to create config directory").WithCause(err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return cacheerrors.New(cacheerrors.ErrCodeConfiguration, "failed to write config file").WithCause(err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return cacheerrors.New(cacheerrors.ErrCodeConfiguration, "max_entries must be greater than 0")
	}
	if _, err := ParseSize(c.Cache.MaxMemory); err != nil {
		return err
	}
	if c.Cache.DefaultTTL <= 0 {
		return cacheerrors.New(cacheerrors.ErrCodeConfiguration, "default_ttl must be positive")
	}
	if c.Security.EncryptionEnabled && c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) != 64 {
		return cacheerrors.New(cacheerrors.ErrCodeConfiguration, "encryption_key must be 64 hex characters")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return cacheerrors.Newf(cacheerrors.ErrCodeConfiguration, "invalid log_level %q (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// AutoTune derives unset intervals from the memory budget: bigger caches
// sweep less often, tighter ones more aggressively.
func (c *Configuration) AutoTune() {
	maxMemory, err := ParseSize(c.Cache.MaxMemory)
	if err != nil {
		return
	}

	if c.Cache.CheckInterval <= 0 {
		switch {
		case maxMemory <= 32*1024*1024:
			c.Cache.CheckInterval = 10 * time.Second
		case maxMemory <= 512*1024*1024:
			c.Cache.CheckInterval = 30 * time.Second
		default:
			c.Cache.CheckInterval = time.Minute
		}
	}
	if c.Cache.StatsInterval <= 0 {
		c.Cache.StatsInterval = time.Second
	}
}

// EngineConfig maps the configuration onto the engine's config record.
func (c *Configuration) EngineConfig() (*cache.Config, error) {
	maxMemory, err := ParseSize(c.Cache.MaxMemory)
	if err != nil {
		return nil, err
	}

	thresholds := cache.PressureThresholds{
		Low:      c.Cache.PressureLow,
		Medium:   c.Cache.PressureMedium,
		High:     c.Cache.PressureHigh,
		Critical: c.Cache.PressureCritical,
	}
	if thresholds == (cache.PressureThresholds{}) {
		thresholds = cache.DefaultPressureThresholds()
	}

	return &cache.Config{
		MaxEntries:        c.Cache.MaxEntries,
		MaxMemory:         maxMemory,
		DefaultTTLSeconds: int(c.Cache.DefaultTTL / time.Second),
		CheckInterval:     c.Cache.CheckInterval,
		StatsInterval:     c.Cache.StatsInterval,
		PreciseSizing:     c.Cache.PreciseSizing,
		VersionAware:      c.Cache.VersionAware,
		NullValueTTL:      c.Cache.NullValueTTL,
		Thresholds:        thresholds,
	}, nil
}

// BuildEncryptor constructs the encryptor when encryption is enabled.
func (c *Configuration) BuildEncryptor() (*secure.Encryptor, error) {
	if !c.Security.EncryptionEnabled {
		return nil, nil
	}
	return secure.NewEncryptor(c.Security.EncryptionKey, c.Security.SensitivePatterns)
}

// BuildAccessController constructs the access controller when configured.
func (c *Configuration) BuildAccessController() (*secure.AccessController, error) {
	spec := c.Security.AccessControl
	if !spec.Enabled {
		return nil, nil
	}

	ops := make([]secure.Operation, 0, len(spec.AllowedOperations))
	for _, op := range spec.AllowedOperations {
		ops = append(ops, secure.Operation(strings.ToLower(op)))
	}

	return secure.NewAccessController(secure.AccessConfig{
		AllowedOperations:  ops,
		RestrictedKeys:     spec.RestrictedKeys,
		RestrictedPatterns: spec.RestrictedPatterns,
	})
}

// ParseSize parses a human-readable size string like "256MB" into bytes.
func ParseSize(size string) (int64, error) {
	size = strings.TrimSpace(strings.ToUpper(size))
	if size == "" {
		return 0, cacheerrors.New(cacheerrors.ErrCodeConfiguration, "size must not be empty")
	}

	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(size, m.suffix) {
			digits := strings.TrimSpace(strings.TrimSuffix(size, m.suffix))
			value, err := strconv.ParseFloat(digits, 64)
			if err != nil {
				return 0, cacheerrors.Newf(cacheerrors.ErrCodeConfiguration, "invalid size %q", size).WithCause(err)
			}
			return int64(value * float64(m.factor)), nil
		}
	}

	value, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, cacheerrors.Newf(cacheerrors.ErrCodeConfiguration, "invalid size %q", size).WithCause(err)
	}
	return value, nil
}

// FormatSize renders a byte count back into a human-readable string.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024*1024:
		return fmt.Sprintf("%.1fGB", float64(bytes)/(1024*1024*1024))
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1fMB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1fKB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
