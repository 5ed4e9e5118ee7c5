package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 1, cfg.SyncWorkers)
	assert.Equal(t, "30s", cfg.RequestTimeout)
	assert.InDelta(t, 10.0, cfg.RateLimitRPS, 0.001)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.True(t, cfg.AssumeUntypedThreads)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
bucket = "mirror-bucket"
secret_name = "quip/sync"
region = "eu-west-1"
log_level = "debug"
sync_workers = 4
rate_limit_rps = 5.0
assume_untyped_threads = false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mirror-bucket", cfg.Bucket)
	assert.Equal(t, "quip/sync", cfg.SecretName)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.SyncWorkers)
	assert.InDelta(t, 5.0, cfg.RateLimitRPS, 0.001)
	assert.False(t, cfg.AssumeUntypedThreads)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "30s", cfg.RequestTimeout)
}

func TestLoad_MissingFileIgnored(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestLoad_BadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`bucket = [unclosed`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
bucket = "file-bucket"
region = "eu-west-1"
`), 0o644))

	t.Setenv(EnvBucket, "env-bucket")
	t.Setenv(EnvSecretName, "env-secret")
	t.Setenv(EnvRegion, "ap-southeast-2")
	t.Setenv(EnvSyncWorkers, "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-bucket", cfg.Bucket)
	assert.Equal(t, "env-secret", cfg.SecretName)
	assert.Equal(t, "ap-southeast-2", cfg.Region)
	assert.Equal(t, 8, cfg.SyncWorkers)
}

func TestLoad_BadWorkerEnvIgnored(t *testing.T) {
	t.Setenv(EnvSyncWorkers, "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.SyncWorkers)
}

func TestTimeout(t *testing.T) {
	cfg := Default()

	d, err := cfg.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	cfg.RequestTimeout = "soon"
	_, err = cfg.Timeout()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Bucket = "mirror-bucket"
	cfg.SecretName = "quip/sync"
	require.NoError(t, cfg.Validate(false))

	// Missing bucket is always fatal.
	noBucket := cfg
	noBucket.Bucket = ""
	err := noBucket.Validate(false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSetting)

	// Missing secret name is fatal only without local credentials.
	noSecret := cfg
	noSecret.SecretName = ""
	err = noSecret.Validate(false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSetting)
	require.NoError(t, noSecret.Validate(true))

	// An unparseable timeout is caught here too.
	badTimeout := cfg
	badTimeout.RequestTimeout = "whenever"
	require.Error(t, badTimeout.Validate(false))
}
