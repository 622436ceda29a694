package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
)

type (
	// Config holds configuration settings for the workflow service
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Store
		Store store.Config

		// Engine
		Operation       api.OperationName
		LeaseTTL        time.Duration
		ShutdownTimeout time.Duration

		// Archiving
		ArchiveBucketURL string
		ArchivePrefix    string
	}
)

const (
	DefaultAPIPort         = 8080
	DefaultAPIHost         = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultRedisEndpoint   = "localhost:6379"
	DefaultRedisDB         = 0
	DefaultOperation       = "workflow"
	DefaultLeaseTTL        = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultArchivePrefix   = "stepwise/"

	MaxTCPPort     = 65535
	MaxRedisDB     = 15
	MinLeaseTTL    = 100 * time.Millisecond
	MaxLeaseTTL    = 24 * time.Hour
	MaxShutdownTTL = time.Hour
)

var (
	ErrInvalidAPIPort         = errors.New("invalid API port")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidOperation       = errors.New("invalid operation name")
	ErrInvalidLeaseTTL        = errors.New("invalid lease TTL")
	ErrInvalidShutdownTimeout = errors.New(
		"shutdown timeout must be positive",
	)
	ErrMissingStoreAddress = errors.New("store URL or address required")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// store, leasing and shutdown behavior
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:  DefaultAPIHost,
		APIPort:  DefaultAPIPort,
		LogLevel: DefaultLogLevel,
		Store: store.Config{
			Addr: DefaultRedisEndpoint,
			DB:   DefaultRedisDB,
		},
		Operation:       DefaultOperation,
		LeaseTTL:        DefaultLeaseTTL,
		ShutdownTimeout: DefaultShutdownTimeout,
		ArchivePrefix:   DefaultArchivePrefix,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Store.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Store.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Store.Password = password
	}
	if op := os.Getenv("OPERATION"); op != "" {
		c.Operation = api.OperationName(op)
	}
	if bucket := os.Getenv("ARCHIVE_BUCKET_URL"); bucket != "" {
		c.ArchiveBucketURL = bucket
	}
	if prefix, ok := os.LookupEnv("ARCHIVE_PREFIX"); ok {
		c.ArchivePrefix = prefix
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"REDIS_DB", &c.Store.DB, -1, MaxRedisDB,
	); err != nil {
		return err
	}
	if err := loadEnvDuration("LEASE_TTL", &c.LeaseTTL); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout,
	); err != nil {
		return err
	}

	return nil
}

// Validate checks that all configuration values are valid. A zero lease
// TTL disables leasing
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if _, ok := log.Levels[c.LogLevel]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Store.URL == "" && c.Store.Addr == "" {
		return ErrMissingStoreAddress
	}

	if c.Operation == "" {
		return ErrInvalidOperation
	}

	if c.LeaseTTL != 0 &&
		(c.LeaseTTL < MinLeaseTTL || c.LeaseTTL > MaxLeaseTTL) {
		return fmt.Errorf("%w: %s out of range [%s, %s]",
			ErrInvalidLeaseTTL, c.LeaseTTL, MinLeaseTTL, MaxLeaseTTL)
	}

	if c.ShutdownTimeout <= 0 || c.ShutdownTimeout > MaxShutdownTTL {
		return fmt.Errorf("%w: %s",
			ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}

// ArchiveEnabled reports whether an archive bucket is configured
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucketURL != ""
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key from the environment as a Go duration string
// such as "30s" or "1m30s"
func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}
