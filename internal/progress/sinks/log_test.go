package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/roundup-crawler/internal/progress"
)

func TestLogSinkLevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRecordStart, RecordKey: "k"},
		{
			RunID: runID, TS: time.Now(), Stage: progress.StageLinkDone, RecordKey: "k",
			Bias: "left", URL: "http://a", Outcome: progress.LinkFailed, Attempts: 2,
		},
		{RunID: runID, TS: time.Now(), Stage: progress.StageWorkerRotated, RecordKey: "k", Note: "target crashed"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "http://a", entries[1].ContextMap()["url"])
	require.Equal(t, int64(2), entries[1].ContextMap()["attempts"])
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "target crashed", entries[2].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
