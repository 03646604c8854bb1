// Package zaplog adapts a zap logger into a [stepup.AuditSink], keeping the
// zap dependency out of the core module for consumers that do not want it.
package zaplog

import (
	"context"

	stepup "github.com/BlakeMcBride1625/stepup"
	"go.uber.org/zap"
)

// Sink writes audit events as structured zap log entries. Failed operations
// log at warn, everything else at info.
type Sink struct {
	logger *zap.Logger
}

// New returns a Sink writing to logger. A nil logger falls back to
// zap.NewNop so the sink is always safe to emit into.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

func (s *Sink) Emit(ctx context.Context, event stepup.AuditEvent) {
	fields := []zap.Field{
		zap.Time("ts", event.Timestamp),
		zap.String("principal", event.Principal),
		zap.String("action", event.Action),
		zap.Bool("success", event.Success),
	}
	if event.Channel != "" {
		fields = append(fields, zap.String("channel", event.Channel))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String("meta_"+k, v))
	}

	if event.Success {
		s.logger.Info(event.EventType, fields...)
		return
	}
	s.logger.Warn(event.EventType, fields...)
}
