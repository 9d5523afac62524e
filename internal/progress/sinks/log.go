// Package sinks provides progress.Sink implementations: structured logs,
// Prometheus metrics, Pub/Sub notifications, and an in-memory snapshot for
// the status API.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/paperharvest/paperharvest/internal/progress"
)

// LogSink writes progress events to a zap logger. Heartbeats go to Debug to
// keep steady-state logs quiet; everything else is Info except source errors.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink around the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("source", evt.Source),
			zap.String("stage", string(evt.Stage)),
			zap.Int64("new", evt.New),
			zap.Int64("duplicate", evt.Duplicate),
			zap.Int64("filtered", evt.Filtered),
			zap.Int64("errors", evt.Errors),
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageHeartbeat:
			s.logger.Debug("harvest progress", fields...)
		case progress.StageSourceError:
			s.logger.Warn("harvest progress", fields...)
		default:
			s.logger.Info("harvest progress", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
