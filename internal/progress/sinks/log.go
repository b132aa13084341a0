package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

// LogSink writes each progress event as a structured debug log line.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Debug("progress event",
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("session", evt.Session),
			zap.Int("index", evt.Index),
			zap.String("slug", evt.Slug),
			zap.String("filename", evt.Filename),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
			zap.String("outcome", evt.Outcome),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements progress.Sink; the logger is owned by the caller.
func (s *LogSink) Close(context.Context) error {
	return nil
}
