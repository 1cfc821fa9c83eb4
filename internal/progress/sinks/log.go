package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
)

// LogSink writes one structured log line per event. Item successes are
// logged at debug level so large runs stay readable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("operation", evt.Operation),
		}
		if evt.Worker > 0 {
			fields = append(fields, zap.Int("worker", evt.Worker))
		}
		if evt.URL != "" {
			fields = append(fields, zap.Int("index", evt.Index), zap.String("url", evt.URL))
		}
		if evt.Count > 0 {
			fields = append(fields, zap.Int("count", evt.Count))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageItemDone:
			s.logger.Debug("item extracted", fields...)
		case progress.StageItemError, progress.StageSessionError:
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
