// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/progress"
)

// LogSink writes progress events through a zap logger. Item completions log
// at debug level so a long job does not flood the output.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("job_id", evt.JobID),
		zap.Int64("processed", evt.Processed),
		zap.Int64("total", evt.Total),
	}
	switch evt.Stage {
	case progress.StageJobStart:
		s.logger.Info("sentiment job started", fields...)
	case progress.StageItemDone:
		fields = append(fields, zap.String("outcome", string(evt.Outcome)))
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("sentiment item processed", fields...)
	case progress.StageJobDone:
		fields = append(fields, zap.String("status", evt.Status))
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("sentiment job finished", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(_ context.Context) error { return nil }
