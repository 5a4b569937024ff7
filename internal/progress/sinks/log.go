package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/roundup-crawler/internal/progress"
)

// LogSink emits one structured log line per progress event, so operators see
// per-link and per-record outcomes as they happen.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.RecordKey != "" {
			fields = append(fields, zap.String("record_key", evt.RecordKey))
		}
		if evt.Stage == progress.StageLinkDone {
			fields = append(fields,
				zap.String("bias", evt.Bias),
				zap.String("url", evt.URL),
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("attempts", evt.Attempts),
				zap.Int64("bytes", evt.Bytes),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt), "progress event", fields...)
	}
	return nil
}

func levelFor(evt progress.Event) zapcore.Level {
	switch {
	case evt.Stage == progress.StageRecordError, evt.Stage == progress.StageWorkerRotated:
		return zapcore.WarnLevel
	case evt.Stage == progress.StageLinkDone && evt.Outcome != progress.LinkFetched:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
