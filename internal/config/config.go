// Package config loads and validates roundup-crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Checkpoint backends.
const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Worker kinds.
const (
	WorkerHeadless = "headless"
	WorkerColly    = "colly"
)

// EnvPrefix namespaces environment overrides, e.g. ROUNDUP_INPUT_DIR.
const EnvPrefix = "ROUNDUP"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	GCS        GCSConfig        `mapstructure:"gcs"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// InputConfig locates the roundup documents to process.
type InputConfig struct {
	Dir string `mapstructure:"dir"`
}

// CheckpointConfig controls where and how often progress is persisted.
type CheckpointConfig struct {
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	DataFile   string `mapstructure:"data_file"`
	ErrorsFile string `mapstructure:"errors_file"`
	FlushEvery int    `mapstructure:"flush_every"`
	LockFile   string `mapstructure:"lock_file"`
}

// GCSConfig selects the bucket for the gcs backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// WorkerConfig tunes the fetch worker.
type WorkerConfig struct {
	Kind           string        `mapstructure:"kind"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	WindowWidth    int           `mapstructure:"window_width"`
	WindowHeight   int           `mapstructure:"window_height"`
	Headless       bool          `mapstructure:"headless"`
	ExecPath       string        `mapstructure:"exec_path"`
	ArticleLimit   int           `mapstructure:"article_limit"`
	DomainQPS      float64       `mapstructure:"domain_qps"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
}

// RetryConfig bounds per-link attempts.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ProcessorConfig tunes the run loop.
type ProcessorConfig struct {
	MaxRotationsPerRecord int `mapstructure:"max_rotations_per_record"`
}

// LoggingConfig toggles zap development features. Unset means auto-detect.
type LoggingConfig struct {
	Development *bool `mapstructure:"development"`
}

// MetricsConfig enables the metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// PubSubConfig enables run summary notifications when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// AutomaticEnv only resolves keys Viper already knows about.
	if raw := v.GetString("logging.development"); raw != "" && cfg.Logging.Development == nil {
		dev := v.GetBool("logging.development")
		cfg.Logging.Development = &dev
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDotEnv exports the variables of a .env file into the process
// environment. A missing file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.dir", "roundups")
	v.SetDefault("checkpoint.backend", BackendLocal)
	v.SetDefault("checkpoint.dir", ".")
	v.SetDefault("checkpoint.data_file", "data.json")
	v.SetDefault("checkpoint.errors_file", "errors.json")
	v.SetDefault("checkpoint.flush_every", 1)
	v.SetDefault("checkpoint.lock_file", ".roundup.lock")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "roundup_checkpoints")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.max_conn_lifetime", "30m")
	v.SetDefault("worker.kind", WorkerHeadless)
	v.SetDefault("worker.nav_timeout", "20s")
	v.SetDefault("worker.startup_timeout", "30s")
	v.SetDefault("worker.user_agent", "roundup-crawler/1.0")
	v.SetDefault("worker.window_width", 1280)
	v.SetDefault("worker.window_height", 800)
	v.SetDefault("worker.headless", true)
	v.SetDefault("worker.exec_path", "")
	v.SetDefault("worker.article_limit", 5000)
	v.SetDefault("worker.domain_qps", 0)
	v.SetDefault("worker.respect_robots", false)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_backoff", "0s")
	v.SetDefault("retry.max_backoff", "5s")
	v.SetDefault("processor.max_rotations_per_record", 5)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Input.Dir) == "" {
		return fmt.Errorf("input.dir must be set")
	}
	switch c.Checkpoint.Backend {
	case BackendLocal:
		if c.Checkpoint.Dir == "" {
			return fmt.Errorf("checkpoint.dir must be set for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("gcs.bucket must be set for the gcs backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is not one of local, memory, gcs, postgres", c.Checkpoint.Backend)
	}
	if c.Checkpoint.DataFile == "" || c.Checkpoint.ErrorsFile == "" {
		return fmt.Errorf("checkpoint.data_file and checkpoint.errors_file must be set")
	}
	if c.Checkpoint.DataFile == c.Checkpoint.ErrorsFile {
		return fmt.Errorf("checkpoint.data_file and checkpoint.errors_file must differ")
	}
	if c.Checkpoint.FlushEvery <= 0 {
		return fmt.Errorf("checkpoint.flush_every must be > 0")
	}
	switch c.Worker.Kind {
	case WorkerHeadless, WorkerColly:
	default:
		return fmt.Errorf("worker.kind %q is not one of headless, colly", c.Worker.Kind)
	}
	if c.Worker.NavTimeout <= 0 {
		return fmt.Errorf("worker.nav_timeout must be > 0")
	}
	if c.Worker.Kind == WorkerHeadless && c.Worker.StartupTimeout <= 0 {
		return fmt.Errorf("worker.startup_timeout must be > 0")
	}
	if c.Worker.ArticleLimit <= 0 {
		return fmt.Errorf("worker.article_limit must be > 0")
	}
	if c.Worker.DomainQPS < 0 {
		return fmt.Errorf("worker.domain_qps must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
		return fmt.Errorf("retry backoff durations must be >= 0")
	}
	if c.Processor.MaxRotationsPerRecord < 0 {
		return fmt.Errorf("processor.max_rotations_per_record must be >= 0")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}
