// Package config implements TOML configuration loading with environment
// overrides for quipmirror. Resolution is layered: defaults, then the
// config file, then environment variables; CLI flags override last at the
// command layer.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrMissingSetting marks a required setting that was not provided by any
// layer. Fatal before any network call.
var ErrMissingSetting = errors.New("config: missing required setting")

// Environment variable keys. AWS_REGION is shared with the SDK's own
// resolution chain.
const (
	EnvBucket      = "QUIPMIRROR_BUCKET"
	EnvSecretName  = "QUIPMIRROR_SECRET_NAME"
	EnvRegion      = "AWS_REGION"
	EnvQuipBaseURL = "QUIP_BASE_URL"
	EnvLogLevel    = "QUIPMIRROR_LOG_LEVEL"
	EnvSyncWorkers = "QUIPMIRROR_SYNC_WORKERS"
)

// Defaults applied before any file or environment layer.
const (
	defaultRegion         = "us-east-1"
	defaultRequestTimeout = "30s"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultSyncWorkers    = 1
	defaultRateLimitRPS   = 10.0
	defaultRateLimitBurst = 20
)

// Config is the resolved runner configuration.
type Config struct {
	Bucket      string `toml:"bucket"`
	SecretName  string `toml:"secret_name"`
	Region      string `toml:"region"`
	QuipBaseURL string `toml:"quip_base_url"`

	LogLevel  string `toml:"log_level"`  // debug, info, warn, error
	LogFormat string `toml:"log_format"` // text or json

	// SyncWorkers bounds sync-stage parallelism; 1 means sequential.
	SyncWorkers int `toml:"sync_workers"`

	// RequestTimeout is the per-attempt HTTP timeout, as a duration string.
	RequestTimeout string `toml:"request_timeout"`

	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`

	// AssumeUntypedThreads controls whether folder children with a thread
	// identifier but no explicit kind are treated as syncable generic
	// threads. The upstream API omits the kind on bare thread references.
	AssumeUntypedThreads bool `toml:"assume_untyped_threads"`
}

// Default returns the configuration baseline before file and environment
// layers are applied.
func Default() Config {
	return Config{
		Region:               defaultRegion,
		LogLevel:             defaultLogLevel,
		LogFormat:            defaultLogFormat,
		SyncWorkers:          defaultSyncWorkers,
		RequestTimeout:       defaultRequestTimeout,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		AssumeUntypedThreads: true,
	}
}

// Load resolves the effective configuration: defaults, then the TOML file
// at path (skipped when path is empty or the file does not exist), then
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBucket); v != "" {
		c.Bucket = v
	}

	if v := os.Getenv(EnvSecretName); v != "" {
		c.SecretName = v
	}

	if v := os.Getenv(EnvRegion); v != "" {
		c.Region = v
	}

	if v := os.Getenv(EnvQuipBaseURL); v != "" {
		c.QuipBaseURL = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv(EnvSyncWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SyncWorkers = n
		}
	}
}

// Timeout parses the per-attempt request timeout.
func (c *Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid request_timeout %q: %w", c.RequestTimeout, err)
	}

	return d, nil
}

// Validate checks the settings the run cannot start without. The secret
// name is only required when localCredentials is false. Local runs
// resolve the token and folder list from the environment instead.
func (c *Config) Validate(localCredentials bool) error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket (set %s or the bucket key in the config file)", ErrMissingSetting, EnvBucket)
	}

	if c.SecretName == "" && !localCredentials {
		return fmt.Errorf("%w: secret_name (set %s, or provide the credential override variables)", ErrMissingSetting, EnvSecretName)
	}

	if _, err := c.Timeout(); err != nil {
		return err
	}

	return nil
}
