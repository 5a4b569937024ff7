package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

// TestHubBatchBySize verifies link events flush once MaxBatch is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize: 8,
		MaxBatch:   2,
		FlushEvery: time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageLinkDone)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubFlushesOnTick verifies a small batch of link events is not held back.
func TestHubFlushesOnTick(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize: 4,
		MaxBatch:   10,
		FlushEvery: 25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubFlushesRecordOutcomesImmediately checks that a record outcome carries
// the pending link events with it instead of waiting for the tick.
func TestHubFlushesRecordOutcomesImmediately(t *testing.T) {
	t.Parallel()

	for _, stage := range []Stage{StageRecordDone, StageRecordError, StageWorkerRotated, StageRunDone} {
		sink := newStubSink()
		hub := NewHub(Config{
			MaxBatch:   100,
			FlushEvery: time.Hour,
		}, sink)

		hub.Emit(sampleEvent(StageLinkDone))
		hub.Emit(sampleEvent(stage))
		require.Eventually(t, func() bool {
			batches := sink.Batches()
			return len(batches) == 1 && len(batches[0]) == 2
		}, time.Second, 5*time.Millisecond, string(stage))
		require.Equal(t, stage, sink.Batches()[0][1].Stage)
		require.NoError(t, hub.Close(context.Background()))
	}
}

// TestHubDropsLinkEventsWhenFull asserts Emit never blocks on link events.
func TestHubDropsLinkEventsWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		stopCh: make(chan struct{}),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageLinkDone))
	hub.Emit(sampleEvent(StageLinkDone))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())
}

// TestHubKeepsOutcomeEventsUnderBackpressure fills the buffer with link events
// and checks the record outcome still reaches the sink.
func TestHubKeepsOutcomeEventsUnderBackpressure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	sink := newStubSink()
	sink.gate = release
	hub := NewHub(Config{
		BufferSize: 1,
		MaxBatch:   1,
		FlushEvery: time.Hour,
	}, sink)

	// The first event occupies the dispatcher inside the gated sink.
	hub.Emit(sampleEvent(StageLinkDone))
	require.Eventually(t, func() bool { return sink.waiting.Load() }, time.Second, time.Millisecond)
	hub.Emit(sampleEvent(StageLinkDone))
	hub.Emit(sampleEvent(StageLinkDone))
	require.Positive(t, hub.Dropped())

	done := make(chan struct{})
	go func() {
		hub.Emit(sampleEvent(StageRecordError))
		close(done)
	}()
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("record outcome was not accepted")
	}

	require.NoError(t, hub.Close(context.Background()))
	var stages []Stage
	for _, batch := range sink.Batches() {
		for _, evt := range batch {
			stages = append(stages, evt.Stage)
		}
	}
	require.Contains(t, stages, StageRecordError)
}

// TestHubEmitAfterCloseIsIgnored ensures late events neither block nor panic.
func TestHubEmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(sampleEvent(StageRecordDone))
	require.Empty(t, sink.Batches())
	require.True(t, sink.closed.Load())
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize: 4,
		MaxBatch:   100,
		FlushEvery: time.Hour,
	}, sink)

	hub.Emit(sampleEvent(StageRunStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	gate    chan struct{}
	waiting atomic.Bool
	closed  atomic.Bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	if s.gate != nil {
		s.waiting.Store(true)
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	id := uuid.New()
	evt := Event{
		RunID: UUIDToBytes(id),
		TS:    time.Now(),
		Stage: stage,
	}
	switch stage {
	case StageRunStart, StageRunDone:
	case StageLinkDone:
		evt.RecordKey = "sample-record"
		evt.Site = "example.com"
		evt.Outcome = LinkFetched
	default:
		evt.RecordKey = "sample-record"
	}
	return evt
}

// TestHubDropsInvalidEvents ensures malformed events never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 1}, sink)

	invalid := sampleEvent(StageLinkDone)
	invalid.Outcome = ""
	hub.Emit(invalid)
	hub.Emit(sampleEvent(StageLinkDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Equal(t, LinkFetched, sink.Batches()[0][0].Outcome)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := sampleEvent(StageRunStart)
	require.NoError(t, base.Validate())

	noID := base
	noID.RunID = [16]byte{}
	require.Error(t, noID.Validate())

	record := base
	record.Stage = StageWorkerRotated
	require.Error(t, record.Validate())
	record.RecordKey = "k"
	require.NoError(t, record.Validate())

	unknown := base
	unknown.Stage = "JOB_START"
	require.Error(t, unknown.Validate())

	negative := base
	negative.Dur = -time.Second
	require.Error(t, negative.Validate())
}
