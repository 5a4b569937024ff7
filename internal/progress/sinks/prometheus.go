package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/roundup-crawler/internal/metrics"
	"github.com/JakeFAU/roundup-crawler/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the collectors
// for runs, records, links and worker rotations.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsRunning   prometheus.Gauge
	runRuntime    prometheus.Histogram
	records       *prometheus.CounterVec
	recordRuntime *prometheus.HistogramVec
	rotations     prometheus.Counter

	links        *prometheus.CounterVec
	linkAttempts *prometheus.HistogramVec
	linkBytes    *prometheus.CounterVec
	linkDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roundup_runs_started_total",
			Help: "Total runs that have started.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roundup_runs_running",
			Help: "Current number of running runs.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundup_run_runtime_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundup_records_total",
			Help: "Records finished partitioned by result.",
		}, []string{"result"}),
		recordRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roundup_record_runtime_seconds",
			Help:    "Wall time per finished record.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roundup_worker_rotations_total",
			Help: "Fetch workers replaced after a fatal failure.",
		}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundup_links_total",
			Help: "Story links finished partitioned by site, bias and outcome.",
		}, []string{"site", "bias", "outcome"}),
		linkAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roundup_link_attempts",
			Help:    "Fetch attempts spent per link.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}, []string{"outcome"}),
		linkBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundup_link_text_bytes_total",
			Help: "Extracted article text per site.",
		}, []string{"site"}),
		linkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roundup_link_duration_seconds",
			Help:    "Time spent on a link including retries, by site and outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"site", "outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.runRuntime,
		s.records,
		s.recordRuntime,
		s.rotations,
		s.links,
		s.linkAttempts,
		s.linkBytes,
		s.linkDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		if evt.Dur > 0 {
			s.runRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageRecordDone:
		s.observeRecord(evt, "success")
	case progress.StageRecordError:
		s.observeRecord(evt, "error")
	case progress.StageWorkerRotated:
		s.rotations.Inc()
	case progress.StageLinkDone:
		s.handleLinkEvent(evt)
	}
}

func (s *PrometheusSink) observeRecord(evt progress.Event, label string) {
	s.records.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.recordRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleLinkEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = metrics.SanitizeSite(evt.URL)
	}
	outcome := string(evt.Outcome)
	s.links.WithLabelValues(site, evt.Bias, outcome).Inc()
	if evt.Attempts > 0 {
		s.linkAttempts.WithLabelValues(outcome).Observe(float64(evt.Attempts))
	}
	if evt.Bytes > 0 {
		s.linkBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.linkDuration.WithLabelValues(site, outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
