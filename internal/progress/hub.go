package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes the Hub. Zero values pick defaults sized for one sequential
// run, which emits a few events per record and a burst per link.
//   - BufferSize: queued events before link events start being dropped (default 256).
//   - MaxBatch: flush once this many events are pending (default 64).
//   - FlushEvery: upper bound on how long a link event waits for a flush (default 250ms).
//   - SinkTimeout: per-sink deadline for one Consume call (default 5s).
//   - BaseContext: parent of every sink call (default context.Background()).
//   - Logger: receives drop and sink warnings.
type Config struct {
	BufferSize  int
	MaxBatch    int
	FlushEvery  time.Duration
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 256
	defaultMaxBatch    = 64
	defaultFlushEvery  = 250 * time.Millisecond
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

// Hub fans run events out to sinks from a single goroutine, so every sink sees
// batches in emission order.
//
// Record and run outcomes (RECORD_DONE, RECORD_ERROR, WORKER_ROTATED, RUN_DONE)
// are never dropped and flush the pending batch as soon as they arrive, so a
// failure cause reaches the log while the run is still on that record. Link
// events are best effort: Emit never blocks on them, and a full buffer drops
// them with a rate-limited warning.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog rate.Sometimes
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the dispatch goroutine; the Hub accepts events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{First: 1, Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// flushesNow reports stages that settle a record or the run.
func flushesNow(stage Stage) bool {
	switch stage {
	case StageRecordDone, StageRecordError, StageWorkerRotated, StageRunDone:
		return true
	default:
		return false
	}
}

// Emit queues evt. Outcome stages wait for buffer space (bounded by the
// sinks' own timeouts); link events are dropped when the buffer is full.
// Events emitted after Close are ignored.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if flushesNow(evt.Stage) {
		select {
		case h.events <- evt:
		case <-h.stopCh:
		}
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped_total", total),
				zap.String("stage", string(evt.Stage)),
			)
		})
	}
}

// Dropped returns how many link events were discarded for lack of buffer space.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close flushes what is queued, closes the sinks and waits for the dispatch
// goroutine. Repeated calls wait on the same shutdown.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.MaxBatch)
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if flushesNow(evt.Stage) || len(pending) >= h.cfg.MaxBatch {
				pending = h.flush(pending)
			}
		case <-ticker.C:
			pending = h.flush(pending)
		case <-h.stopCh:
			h.drain(pending)
			return
		}
	}
}

func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatch {
				pending = h.flush(pending)
			}
		default:
			h.flush(pending)
			if n := h.dropped.Load(); n > 0 {
				h.logger.Warn("progress events dropped during run", zap.Int64("dropped_total", n))
			}
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of pending to every sink and returns pending emptied.
func (h *Hub) flush(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	batch := append([]Event(nil), pending...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err), zap.Int("events", len(batch)))
		}
		cancel()
	}
	return pending[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
