// Package app wires configuration into the long-lived services of a roundup
// run and exposes the fetch and audit entry points used by the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/roundup-crawler/internal/audit"
	"github.com/JakeFAU/roundup-crawler/internal/checkpoint"
	"github.com/JakeFAU/roundup-crawler/internal/config"
	collyfetcher "github.com/JakeFAU/roundup-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/roundup-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/roundup-crawler/internal/id/uuid"
	"github.com/JakeFAU/roundup-crawler/internal/metrics"
	"github.com/JakeFAU/roundup-crawler/internal/processor"
	"github.com/JakeFAU/roundup-crawler/internal/progress"
	"github.com/JakeFAU/roundup-crawler/internal/progress/sinks"
	"github.com/JakeFAU/roundup-crawler/internal/publisher/memory"
	"github.com/JakeFAU/roundup-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/roundup-crawler/internal/roundup"
	"github.com/JakeFAU/roundup-crawler/internal/source"
	"github.com/JakeFAU/roundup-crawler/internal/storage"
	"github.com/JakeFAU/roundup-crawler/internal/storage/gcs"
	"github.com/JakeFAU/roundup-crawler/internal/storage/local"
	storagememory "github.com/JakeFAU/roundup-crawler/internal/storage/memory"
	"github.com/JakeFAU/roundup-crawler/internal/storage/postgres"
	"github.com/JakeFAU/roundup-crawler/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// ErrLocked means another run holds the checkpoint lock.
var ErrLocked = errors.New("checkpoint is locked by another run")

// Publisher sends run notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Options overrides wiring, mostly for tests. Zero values mean "build from
// config".
type Options struct {
	Blobs      storage.BlobStore
	Lifecycle  roundup.Lifecycle
	Publisher  Publisher
	Registerer prometheus.Registerer
	Clock      roundup.Clock
	// GCPOptions are passed to the GCS and Pub/Sub clients.
	GCPOptions []option.ClientOption
}

// App holds the services shared by one process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	blobs     storage.BlobStore
	store     *checkpoint.Store
	lifecycle roundup.Lifecycle
	retry     *roundup.RetryPolicy
	hub       *progress.Hub
	publisher Publisher
	ids       *uuid.Generator
	clock     roundup.Clock
	closers   []func(context.Context) error
}

// RunNotification is published after every fetch run.
type RunNotification struct {
	RunID       string    `json:"run_id"`
	Pending     int       `json:"pending"`
	Processed   int       `json:"processed"`
	Errored     int       `json:"errored"`
	Remaining   int       `json:"remaining"`
	Rotations   int       `json:"rotations"`
	Aborted     bool      `json:"aborted"`
	Interrupted bool      `json:"interrupted"`
	FinishedAt  time.Time `json:"finished_at"`
}

// New builds the App. It fails fast when the checkpoint backend cannot be
// opened; the snapshot itself is read by Fetch once it holds the lock.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  opts.Clock,
	}

	tp, err := telemetry.InitTracerProvider(ctx, "roundup-crawler")
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	blobs := opts.Blobs
	if blobs == nil {
		blobs, err = a.openBackend(ctx, opts.GCPOptions)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	a.blobs = blobs

	a.lifecycle = opts.Lifecycle
	if a.lifecycle == nil {
		a.lifecycle = newLifecycle(cfg.Worker, logger.Named("worker"))
	}
	a.retry = roundup.NewRetryPolicy(roundup.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, logger.Named("retry"))

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)
	a.closers = append(a.closers, a.hub.Close)

	a.publisher = opts.Publisher
	if a.publisher == nil {
		a.publisher, err = newPublisher(ctx, cfg.PubSub, opts.GCPOptions, logger.Named("publisher"))
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	a.closers = append(a.closers, func(context.Context) error { return a.publisher.Close() })

	logger.Info("application services initialized",
		zap.String("backend", cfg.Checkpoint.Backend),
		zap.String("worker", cfg.Worker.Kind),
	)
	return a, nil
}

func (a *App) openBackend(ctx context.Context, gcpOpts []option.ClientOption) (storage.BlobStore, error) {
	cfg := a.cfg
	switch cfg.Checkpoint.Backend {
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Checkpoint.Dir})
		if err != nil {
			return nil, fmt.Errorf("local checkpoint backend: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		a.logger.Warn("memory checkpoint backend selected; progress will not survive the process")
		return storagememory.NewBlobStore(), nil
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx, gcpOpts...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs checkpoint backend: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres checkpoint backend: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres checkpoint schema: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", cfg.Checkpoint.Backend)
	}
}

func newLifecycle(cfg config.WorkerConfig, logger *zap.Logger) roundup.Lifecycle {
	if cfg.Kind == config.WorkerColly {
		return collyfetcher.NewLauncher(collyfetcher.Config{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.NavTimeout,
			ArticleLimit:  cfg.ArticleLimit,
			DomainQPS:     cfg.DomainQPS,
		}, logger)
	}
	return headless.NewLauncher(headless.Config{
		ExecPath:          cfg.ExecPath,
		Headless:          cfg.Headless,
		UserAgent:         cfg.UserAgent,
		WindowWidth:       cfg.WindowWidth,
		WindowHeight:      cfg.WindowHeight,
		NavigationTimeout: cfg.NavTimeout,
		StartupTimeout:    cfg.StartupTimeout,
		ArticleLimit:      cfg.ArticleLimit,
		DomainQPS:         cfg.DomainQPS,
	}, logger)
}

func newPublisher(ctx context.Context, cfg config.PubSubConfig, gcpOpts []option.ClientOption, logger *zap.Logger) (Publisher, error) {
	if cfg.Topic == "" {
		return memory.New(logger), nil
	}
	pub, err := pubsub.New(ctx, cfg.ProjectID, cfg.Topic, gcpOpts...)
	if err != nil {
		return nil, fmt.Errorf("run notifications: %w", err)
	}
	return pub, nil
}

// openCheckpoint reads the current snapshot. Fetch calls it with the lock
// held, so the snapshot it reconciles against is the one it will overwrite.
func (a *App) openCheckpoint(ctx context.Context, readOnly bool) (*checkpoint.Store, error) {
	store, err := checkpoint.Open(ctx, a.blobs, checkpoint.Config{
		DataFile:   a.cfg.Checkpoint.DataFile,
		ErrorsFile: a.cfg.Checkpoint.ErrorsFile,
		ReadOnly:   readOnly,
	}, a.logger.Named("checkpoint"))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	return store, nil
}

// Fetch runs the pipeline over every input document not yet reconciled with
// the checkpoint. The checkpoint lock is taken before the snapshot is read
// and held until the final save. An input directory without documents is a
// no-op that writes nothing.
func (a *App) Fetch(ctx context.Context) (processor.Summary, error) {
	unlock, err := a.lock()
	if err != nil {
		return processor.Summary{}, err
	}
	defer unlock()

	store, err := a.openCheckpoint(ctx, false)
	if err != nil {
		return processor.Summary{}, err
	}
	a.store = store

	src, err := source.NewDir(a.cfg.Input.Dir)
	if err != nil {
		return processor.Summary{}, err
	}
	refs, err := src.List(ctx)
	if err != nil {
		return processor.Summary{}, err
	}
	if len(refs) == 0 {
		a.logger.Info("no input documents found", zap.String("dir", a.cfg.Input.Dir))
		return processor.Summary{}, nil
	}
	pending, done := a.store.Reconcile(refs)
	a.logger.Info("reconciled inputs with checkpoint",
		zap.Int("inputs", len(refs)),
		zap.Int("already_handled", done),
		zap.Int("pending", len(pending)),
	)

	stopMetrics, err := a.startMetrics()
	if err != nil {
		return processor.Summary{}, err
	}
	defer stopMetrics()

	runID, err := a.ids.NewRunID()
	if err != nil {
		return processor.Summary{}, fmt.Errorf("run id: %w", err)
	}
	ctx, span := telemetry.Tracer().Start(ctx, "roundup.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("roundup.run_id", runID.String()),
		attribute.Int("roundup.pending", len(pending)),
	)

	proc := processor.New(src, a.lifecycle, a.retry, a.store, a.hub, a.clock, processor.Config{
		MaxRotationsPerRecord: a.cfg.Processor.MaxRotationsPerRecord,
		FlushEvery:            a.cfg.Checkpoint.FlushEvery,
	}, a.logger.Named("processor"))
	summary, runErr := proc.Run(ctx, runID, pending)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	a.notify(context.WithoutCancel(ctx), summary)
	return summary, runErr
}

// Audit scans the persisted results for unusable entries. It reads the
// snapshot without the lock and never writes: snapshots are replaced whole,
// so a concurrent run cannot expose a half-written one.
func (a *App) Audit(ctx context.Context) (audit.Report, error) {
	store, err := a.openCheckpoint(ctx, true)
	if err != nil {
		return audit.Report{}, err
	}
	return audit.Scan(store.Results(), nil), nil
}

// Checkpoint returns the store opened by the last Fetch, or nil before one.
func (a *App) Checkpoint() *checkpoint.Store {
	return a.store
}

func (a *App) lock() (func(), error) {
	if a.cfg.Checkpoint.Backend != config.BackendLocal || a.cfg.Checkpoint.LockFile == "" {
		return func() {}, nil
	}
	path := filepath.Join(a.cfg.Checkpoint.Dir, a.cfg.Checkpoint.LockFile)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire checkpoint lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			a.logger.Warn("release checkpoint lock failed", zap.Error(err))
		}
	}, nil
}

func (a *App) startMetrics() (func(), error) {
	if a.cfg.Metrics.Addr == "" {
		return func() {}, nil
	}
	srv := metrics.NewServer(a.cfg.Metrics.Addr, a.logger.Named("metrics"))
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}, nil
}

func (a *App) notify(ctx context.Context, s processor.Summary) {
	msg := RunNotification{
		RunID:       s.RunID,
		Pending:     s.Pending,
		Processed:   s.Processed,
		Errored:     s.Errored,
		Remaining:   s.Remaining,
		Rotations:   s.Rotations,
		Aborted:     s.Aborted,
		Interrupted: s.Interrupted,
		FinishedAt:  s.FinishedAt,
	}
	id, err := a.publisher.Publish(ctx, a.cfg.PubSub.Topic, msg)
	if err != nil {
		a.logger.Warn("publish run summary failed", zap.Error(err))
		return
	}
	a.logger.Debug("run summary published", zap.String("message_id", id))
}

// Close releases every service in reverse construction order.
func (a *App) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
