package events

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport logs messages instead of delivering them.
type LogTransport struct {
	log *zap.Logger
}

var _ Transport = (*LogTransport)(nil)

func NewLogTransport(log *zap.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Publish(_ context.Context, m Message) error {
	t.log.Info("Event published",
		zap.String("event_type", m.EventType),
		zap.String("source_application", m.SourceApplication),
		zap.String("target_application", m.TargetApplication),
		zap.Stringer("tenant_id", m.TenantID),
		zap.String("dedupe_key", m.DedupeKey),
		zap.ByteString("payload", m.Payload))
	return nil
}
