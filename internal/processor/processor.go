// Package processor drives a roundup run: it walks the pending records in
// order, fetches every story link through the current worker, rotates the
// worker when it dies, and hands each finished record to the checkpoint store.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/roundup-crawler/internal/clock/system"
	"github.com/JakeFAU/roundup-crawler/internal/metrics"
	"github.com/JakeFAU/roundup-crawler/internal/progress"
	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

const defaultFlushEvery = 1

// ErrWorkerCreation aborts a run: without a worker no record can progress.
var ErrWorkerCreation = errors.New("worker creation failed")

// ErrTooManyRotations is recorded for a record that kept killing workers.
var ErrTooManyRotations = errors.New("worker died too many times on record")

// Checkpointer receives finished records. The checkpoint.Store satisfies it.
type Checkpointer interface {
	AppendResult(rec roundup.Record)
	AppendError(e roundup.ErrorRecord)
	Save(ctx context.Context) error
}

// Config tunes the run loop.
type Config struct {
	// MaxRotationsPerRecord bounds worker replacements while one record is
	// processed; 0 means unlimited.
	MaxRotationsPerRecord int
	// FlushEvery persists the checkpoint after this many finished records.
	FlushEvery int
}

// Processor is the run state machine. A Processor may run several times, but
// not concurrently.
type Processor struct {
	source    roundup.Source
	lifecycle roundup.Lifecycle
	retry     *roundup.RetryPolicy
	store     Checkpointer
	emitter   progress.Emitter
	clock     roundup.Clock
	cfg       Config
	logger    *zap.Logger
}

// New wires a Processor. emitter, clock and logger may be nil.
func New(
	source roundup.Source,
	lifecycle roundup.Lifecycle,
	retry *roundup.RetryPolicy,
	store Checkpointer,
	emitter progress.Emitter,
	clock roundup.Clock,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.MaxRotationsPerRecord < 0 {
		cfg.MaxRotationsPerRecord = 0
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = roundup.NewRetryPolicy(roundup.RetryConfig{}, logger)
	}
	return &Processor{
		source:    source,
		lifecycle: lifecycle,
		retry:     retry,
		store:     store,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Summary reports how a run ended.
type Summary struct {
	RunID          string        `json:"run_id"`
	Pending        int           `json:"pending"`
	Processed      int           `json:"processed"`
	Errored        int           `json:"errored"`
	Remaining      int           `json:"remaining"`
	LinksFetched   int           `json:"links_fetched"`
	LinksFailed    int           `json:"links_failed"`
	WorkersCreated int           `json:"workers_created"`
	Rotations      int           `json:"rotations"`
	Aborted        bool          `json:"aborted"`
	Interrupted    bool          `json:"interrupted"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration"`
}

// runState is owned by a single Run call. The worker handle lives here and is
// swapped on rotation.
type runState struct {
	runID           [16]byte
	pending         []roundup.Ref
	index           int
	worker          roundup.Worker
	recordRotations int
	sinceFlush      int
	summary         Summary
}

type recordOutcome int

const (
	recordDone recordOutcome = iota
	recordErrored
	recordRestart
)

type workerDiedError struct {
	url   string
	cause error
}

func (e *workerDiedError) Error() string {
	return fmt.Sprintf("worker died fetching %s: %v", e.url, e.cause)
}

func (e *workerDiedError) Unwrap() error {
	return e.cause
}

// Run processes pending in order. It returns when every record has a result
// or an error record, when a worker cannot be created, or when ctx ends.
// However it ends, the active worker is destroyed and the checkpoint is saved;
// a save failure is joined into the returned error.
func (p *Processor) Run(ctx context.Context, runID uuid.UUID, pending []roundup.Ref) (summary Summary, err error) {
	st := &runState{
		runID:   progress.UUIDToBytes(runID),
		pending: pending,
		summary: Summary{
			RunID:     runID.String(),
			Pending:   len(pending),
			StartedAt: p.clock.Now(),
		},
	}
	logger := p.logger.With(zap.String("run_id", st.summary.RunID))
	logger.Info("run started", zap.Int("pending", len(pending)))
	p.emit(st, progress.Event{Stage: progress.StageRunStart, Note: fmt.Sprintf("pending=%d", len(pending))})

	defer func() {
		p.releaseWorker(st, logger)

		// Persist even when ctx is already cancelled.
		if saveErr := p.store.Save(context.WithoutCancel(ctx)); saveErr != nil {
			logger.Error("final checkpoint save failed", zap.Error(saveErr))
			err = errors.Join(err, fmt.Errorf("persist checkpoint: %w", saveErr))
		}

		st.summary.Remaining = len(st.pending) - st.index
		st.summary.FinishedAt = p.clock.Now()
		st.summary.Duration = st.summary.FinishedAt.Sub(st.summary.StartedAt)
		summary = st.summary
		p.emit(st, progress.Event{Stage: progress.StageRunDone, Dur: nonNegative(summary.Duration)})
		logger.Info("run finished",
			zap.Int("processed", summary.Processed),
			zap.Int("errored", summary.Errored),
			zap.Int("remaining", summary.Remaining),
			zap.Int("rotations", summary.Rotations),
			zap.Bool("aborted", summary.Aborted),
			zap.Bool("interrupted", summary.Interrupted),
		)
	}()

	for st.index < len(st.pending) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			st.summary.Interrupted = true
			return st.summary, fmt.Errorf("run interrupted: %w", ctxErr)
		}
		ref := st.pending[st.index]

		outcome, recErr := p.processRecord(ctx, st, ref, logger)
		if recErr != nil {
			if errors.Is(recErr, ErrWorkerCreation) {
				st.summary.Aborted = true
			} else {
				st.summary.Interrupted = true
			}
			return st.summary, recErr
		}
		if outcome == recordRestart {
			continue
		}
		st.index++
		st.recordRotations = 0
		p.maybeFlush(ctx, st, logger)
	}
	return st.summary, nil
}

// processRecord returns recordRestart after a worker death, with the worker
// already released; the caller retries the same record from scratch. A non-nil
// error ends the run.
func (p *Processor) processRecord(
	ctx context.Context,
	st *runState,
	ref roundup.Ref,
	logger *zap.Logger,
) (recordOutcome, error) {
	start := p.clock.Now()
	rec, err := p.source.Load(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("run interrupted: %w", ctx.Err())
		}
		p.recordError(st, ref, ref.Key, err, start, logger)
		return recordErrored, nil
	}
	if rec.Key == "" {
		rec.Key = ref.Key
	}

	if err := p.ensureWorker(ctx, st, logger); err != nil {
		return 0, err
	}
	p.emit(st, progress.Event{Stage: progress.StageRecordStart, RecordKey: rec.Key})

	out := rec.Clone()
	var fetched, failed int
	for _, bias := range roundup.Biases {
		links, ok := rec.Story[string(bias)]
		if !ok {
			continue
		}
		entries := make([]string, 0, len(links))
		for _, link := range links {
			entry, ok, linkErr := p.fetchLink(ctx, st, rec.Key, bias, link)
			if linkErr != nil {
				var died *workerDiedError
				if errors.As(linkErr, &died) {
					return p.handleWorkerDeath(st, ref, rec.Key, died, start, logger)
				}
				return 0, linkErr
			}
			if ok {
				fetched++
			} else {
				failed++
			}
			entries = append(entries, entry)
		}
		out.Story[string(bias)] = entries
	}

	p.store.AppendResult(out)
	st.summary.Processed++
	st.summary.LinksFetched += fetched
	st.summary.LinksFailed += failed
	p.emit(st, progress.Event{
		Stage:     progress.StageRecordDone,
		RecordKey: rec.Key,
		Dur:       nonNegative(p.clock.Now().Sub(start)),
		Note:      fmt.Sprintf("fetched=%d failed=%d", fetched, failed),
	})
	return recordDone, nil
}

// fetchLink returns the story entry for link and whether it holds article
// text. It errors only for a worker death or an interrupted run.
func (p *Processor) fetchLink(
	ctx context.Context,
	st *runState,
	key string,
	bias roundup.Bias,
	link string,
) (string, bool, error) {
	evt := progress.Event{
		Stage:     progress.StageLinkDone,
		RecordKey: key,
		Bias:      string(bias),
		Site:      metrics.SanitizeSite(link),
		URL:       link,
	}
	if err := roundup.ValidateLink(link); err != nil {
		evt.Outcome = progress.LinkInvalid
		evt.Note = err.Error()
		p.emit(st, evt)
		return roundup.FailureSentinel(link), false, nil
	}

	start := p.clock.Now()
	res, err := p.retry.Attempt(ctx, st.worker, link)
	if err != nil {
		return "", false, fmt.Errorf("run interrupted: %w", err)
	}
	evt.Attempts = res.Attempts
	evt.Dur = nonNegative(p.clock.Now().Sub(start))

	switch res.Outcome {
	case roundup.OutcomeSuccess:
		evt.Outcome = progress.LinkFetched
		evt.Bytes = int64(len(res.Text))
		p.emit(st, evt)
		return res.Text, true, nil
	case roundup.OutcomeFatalFailure:
		return "", false, &workerDiedError{url: link, cause: res.Err}
	default:
		evt.Outcome = progress.LinkFailed
		if res.Err != nil {
			evt.Note = res.Err.Error()
		}
		p.emit(st, evt)
		return roundup.FailureSentinel(link), false, nil
	}
}

func (p *Processor) handleWorkerDeath(
	st *runState,
	ref roundup.Ref,
	key string,
	died *workerDiedError,
	start time.Time,
	logger *zap.Logger,
) (recordOutcome, error) {
	st.summary.Rotations++
	st.recordRotations++
	logger.Warn("fetch worker died, rotating",
		zap.String("record_key", key),
		zap.String("url", died.url),
		zap.Int("record_rotations", st.recordRotations),
		zap.Error(died.cause),
	)
	p.emit(st, progress.Event{Stage: progress.StageWorkerRotated, RecordKey: key, Note: died.Error()})
	p.releaseWorker(st, logger)

	if limit := p.cfg.MaxRotationsPerRecord; limit > 0 && st.recordRotations > limit {
		p.recordError(st, ref, key, fmt.Errorf("%w (%d rotations): %w", ErrTooManyRotations, st.recordRotations, died), start, logger)
		return recordErrored, nil
	}
	return recordRestart, nil
}

func (p *Processor) recordError(
	st *runState,
	ref roundup.Ref,
	key string,
	cause error,
	start time.Time,
	logger *zap.Logger,
) {
	if key == "" {
		key = roundup.KeyFromPath(ref.Path)
	}
	p.store.AppendError(roundup.ErrorRecord{
		Path:     ref.Path,
		Key:      key,
		Error:    cause.Error(),
		FailedAt: p.clock.Now(),
	})
	st.summary.Errored++
	logger.Warn("record failed", zap.String("record_key", key), zap.String("path", ref.Path), zap.Error(cause))
	p.emit(st, progress.Event{
		Stage:     progress.StageRecordError,
		RecordKey: key,
		Dur:       nonNegative(p.clock.Now().Sub(start)),
		Note:      cause.Error(),
	})
}

func (p *Processor) ensureWorker(ctx context.Context, st *runState, logger *zap.Logger) error {
	if st.worker != nil {
		return nil
	}
	worker, err := p.lifecycle.Create(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("run interrupted: %w", ctx.Err())
		}
		logger.Error("fetch worker creation failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrWorkerCreation, err)
	}
	st.worker = worker
	st.summary.WorkersCreated++
	return nil
}

func (p *Processor) releaseWorker(st *runState, logger *zap.Logger) {
	if st.worker == nil {
		return
	}
	if err := p.lifecycle.Destroy(st.worker); err != nil {
		logger.Warn("fetch worker destroy failed", zap.Error(err))
	}
	st.worker = nil
}

func (p *Processor) maybeFlush(ctx context.Context, st *runState, logger *zap.Logger) {
	st.sinceFlush++
	if st.sinceFlush < p.cfg.FlushEvery {
		return
	}
	st.sinceFlush = 0
	if err := p.store.Save(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("checkpoint flush failed, continuing", zap.Error(err))
	}
}

func (p *Processor) emit(st *runState, evt progress.Event) {
	evt.RunID = st.runID
	evt.TS = p.clock.Now()
	p.emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
