package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "roundups", cfg.Input.Dir)
	assert.Equal(t, BackendLocal, cfg.Checkpoint.Backend)
	assert.Equal(t, "data.json", cfg.Checkpoint.DataFile)
	assert.Equal(t, "errors.json", cfg.Checkpoint.ErrorsFile)
	assert.Equal(t, 1, cfg.Checkpoint.FlushEvery)
	assert.Equal(t, WorkerHeadless, cfg.Worker.Kind)
	assert.Equal(t, 20*time.Second, cfg.Worker.NavTimeout)
	assert.Equal(t, 5000, cfg.Worker.ArticleLimit)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Processor.MaxRotationsPerRecord)
	assert.Nil(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
input:
  dir: /data/roundups
checkpoint:
  backend: gcs
  data_file: results.json
  errors_file: failures.json
  flush_every: 10
gcs:
  bucket: roundup-bucket
  prefix: runs/2024
worker:
  kind: colly
  nav_timeout: 45s
  user_agent: custom-agent
  domain_qps: 0.5
retry:
  max_attempts: 3
  initial_backoff: 250ms
  max_backoff: 2s
processor:
  max_rotations_per_record: 0
logging:
  development: false
pubsub:
  project_id: proj
  topic: roundup-runs
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/roundups", cfg.Input.Dir)
	assert.Equal(t, BackendGCS, cfg.Checkpoint.Backend)
	assert.Equal(t, "results.json", cfg.Checkpoint.DataFile)
	assert.Equal(t, 10, cfg.Checkpoint.FlushEvery)
	assert.Equal(t, "roundup-bucket", cfg.GCS.Bucket)
	assert.Equal(t, WorkerColly, cfg.Worker.Kind)
	assert.Equal(t, 45*time.Second, cfg.Worker.NavTimeout)
	assert.InDelta(t, 0.5, cfg.Worker.DomainQPS, 1e-9)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Zero(t, cfg.Processor.MaxRotationsPerRecord)
	require.NotNil(t, cfg.Logging.Development)
	assert.False(t, *cfg.Logging.Development)
	assert.Equal(t, "roundup-runs", cfg.PubSub.Topic)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ROUNDUP_INPUT_DIR", "/env/roundups")
	t.Setenv("ROUNDUP_WORKER_KIND", "colly")
	t.Setenv("ROUNDUP_LOGGING_DEVELOPMENT", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/roundups", cfg.Input.Dir)
	assert.Equal(t, WorkerColly, cfg.Worker.Kind)
	require.NotNil(t, cfg.Logging.Development)
	assert.True(t, *cfg.Logging.Development)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ROUNDUP_CHECKPOINT_FLUSH_EVERY=7\n"), 0o600))
	t.Setenv("ROUNDUP_CHECKPOINT_FLUSH_EVERY", "")
	require.NoError(t, os.Unsetenv("ROUNDUP_CHECKPOINT_FLUSH_EVERY"))

	require.NoError(t, LoadDotEnv(path))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Checkpoint.FlushEvery)

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, LoadDotEnv(""))
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "missing input dir", mutate: func(c *Config) { c.Input.Dir = " " }, want: "input.dir"},
		{name: "unknown backend", mutate: func(c *Config) { c.Checkpoint.Backend = "s3" }, want: "checkpoint.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Checkpoint.Backend = BackendGCS }, want: "gcs.bucket"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Checkpoint.Backend = BackendPostgres }, want: "postgres.dsn"},
		{name: "same snapshot names", mutate: func(c *Config) { c.Checkpoint.ErrorsFile = c.Checkpoint.DataFile }, want: "must differ"},
		{name: "zero flush", mutate: func(c *Config) { c.Checkpoint.FlushEvery = 0 }, want: "checkpoint.flush_every"},
		{name: "unknown worker", mutate: func(c *Config) { c.Worker.Kind = "lynx" }, want: "worker.kind"},
		{name: "zero nav timeout", mutate: func(c *Config) { c.Worker.NavTimeout = 0 }, want: "worker.nav_timeout"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, want: "retry.max_attempts"},
		{name: "negative rotations", mutate: func(c *Config) { c.Processor.MaxRotationsPerRecord = -1 }, want: "max_rotations_per_record"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.Topic = "runs" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}
