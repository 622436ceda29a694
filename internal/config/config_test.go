package config_test

import (
	"testing"
	"time"

	testify "github.com/stretchr/testify/assert"

	"github.com/kode4food/stepwise/internal/assert"
	"github.com/kode4food/stepwise/internal/config"
	"github.com/kode4food/stepwise/pkg/api"
)

func TestConfigValidation(t *testing.T) {
	as := assert.New(t)

	t.Run("valid_default_config", func(t *testing.T) {
		as.ConfigValid(config.NewDefaultConfig())
	})

	t.Run("leasing_disabled", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.LeaseTTL = 0
		as.ConfigValid(cfg)
	})

	tests := []struct {
		name          string
		configMod     func(*config.Config)
		errorContains string
	}{
		{
			name: "invalid_api_port_zero",
			configMod: func(c *config.Config) {
				c.APIPort = 0
			},
			errorContains: "invalid API port",
		},
		{
			name: "invalid_api_port_too_high",
			configMod: func(c *config.Config) {
				c.APIPort = 70000
			},
			errorContains: "invalid API port",
		},
		{
			name: "unknown_log_level",
			configMod: func(c *config.Config) {
				c.LogLevel = "loud"
			},
			errorContains: "invalid log level",
		},
		{
			name: "no_store_address",
			configMod: func(c *config.Config) {
				c.Store.Addr = ""
			},
			errorContains: "store URL or address required",
		},
		{
			name: "empty_operation",
			configMod: func(c *config.Config) {
				c.Operation = ""
			},
			errorContains: "invalid operation name",
		},
		{
			name: "lease_ttl_too_small",
			configMod: func(c *config.Config) {
				c.LeaseTTL = time.Millisecond
			},
			errorContains: "invalid lease TTL",
		},
		{
			name: "zero_shutdown_timeout",
			configMod: func(c *config.Config) {
				c.ShutdownTimeout = 0
			},
			errorContains: "shutdown timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tt.configMod(cfg)
			as.ConfigInvalid(cfg, tt.errorContains)
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	as := assert.New(t)

	cfg := config.NewDefaultConfig()

	as.Equal(config.DefaultAPIPort, cfg.APIPort)
	as.Equal("0.0.0.0", cfg.APIHost)
	as.Equal(config.DefaultLogLevel, cfg.LogLevel)
	as.Equal(config.DefaultRedisEndpoint, cfg.Store.Addr)
	as.Equal(api.OperationName(config.DefaultOperation), cfg.Operation)
	as.Equal(config.DefaultLeaseTTL, cfg.LeaseTTL)
	as.Equal(config.DefaultShutdownTimeout, cfg.ShutdownTimeout)
	as.Equal(config.DefaultArchivePrefix, cfg.ArchivePrefix)
	as.False(cfg.ArchiveEnabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_URL", "redis://cache:6379/3")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "4")
	t.Setenv("OPERATION", "provisioning")
	t.Setenv("LEASE_TTL", "45s")
	t.Setenv("SHUTDOWN_TIMEOUT", "1m")
	t.Setenv("ARCHIVE_BUCKET_URL", "mem://")
	t.Setenv("ARCHIVE_PREFIX", "")

	cfg := config.NewDefaultConfig()
	testify.NoError(t, cfg.LoadFromEnv())

	testify.Equal(t, "127.0.0.1", cfg.APIHost)
	testify.Equal(t, 9090, cfg.APIPort)
	testify.Equal(t, "debug", cfg.LogLevel)
	testify.Equal(t, "redis://cache:6379/3", cfg.Store.URL)
	testify.Equal(t, "cache:6380", cfg.Store.Addr)
	testify.Equal(t, "secret", cfg.Store.Password)
	testify.Equal(t, 4, cfg.Store.DB)
	testify.Equal(t, api.OperationName("provisioning"), cfg.Operation)
	testify.Equal(t, 45*time.Second, cfg.LeaseTTL)
	testify.Equal(t, time.Minute, cfg.ShutdownTimeout)
	testify.True(t, cfg.ArchiveEnabled())
	testify.Empty(t, cfg.ArchivePrefix)
	testify.NoError(t, cfg.Validate())
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"API_PORT", "not_a_number"},
		{"API_PORT", "0"},
		{"API_PORT", "70000"},
		{"REDIS_DB", "abc"},
		{"REDIS_DB", "16"},
		{"REDIS_DB", "-1"},
		{"LEASE_TTL", "soon"},
		{"SHUTDOWN_TIMEOUT", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := config.NewDefaultConfig()
			err := cfg.LoadFromEnv()
			testify.Error(t, err)
			testify.Contains(t, err.Error(), tt.key)
		})
	}
}
