package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// LogSink emits one structured log line per progress event.
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
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageCategory:
			fields = append(fields,
				zap.String("category", evt.Category),
				zap.String("state", string(evt.State)),
				zap.Int("pages_completed", evt.PagesCompleted),
				zap.Int("pages_failed", evt.PagesFailed),
				zap.Int("pages_total", evt.PagesTotal),
				zap.Bool("total_known", evt.TotalKnown),
				zap.Int("records", evt.Records),
			)
			s.logger.Info("category progress", fields...)
		case progress.StageRunDone:
			fields = append(fields,
				zap.Int("records", evt.Records),
				zap.Duration("elapsed", evt.Dur),
				zap.String("note", evt.Note),
			)
			s.logger.Info("run progress", fields...)
		default:
			s.logger.Info("run progress", append(fields, zap.String("note", evt.Note))...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
