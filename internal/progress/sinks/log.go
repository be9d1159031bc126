package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/progress"
)

// LogSink emits structured logs for follower progress. Skipped changes are
// logged at debug level since they dominate the feed.
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
			zap.Int64("sequence", evt.Sequence),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Package != "" {
			fields = append(fields, zap.String("package", evt.Package), zap.Int("versions", evt.Versions))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageChangeSkipped:
			s.logger.Debug("progress event", fields...)
		case progress.StageChangeFailed:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
