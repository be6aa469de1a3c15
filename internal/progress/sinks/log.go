package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/progress"
)

// LogSink writes one structured log line per sync event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("sync_events")}
}

// Consume logs each event; errors are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("source_id", evt.SourceID),
			zap.String("source_type", evt.SourceType),
			zap.String("stage", string(evt.Stage)),
			zap.String("trigger", evt.Trigger),
			zap.Int("documents", evt.Documents),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Note != "" {
			s.logger.Warn("sync event", append(fields, zap.String("note", evt.Note))...)
			continue
		}
		s.logger.Info("sync event", fields...)
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
