package authgate

import (
	"go.uber.org/zap"

	"github.com/erpcore/authgate/internal/audit"
)

// AuditEvent is one record of the audit trail.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's background dispatcher.
type AuditSink = audit.Sink

// KafkaAuditConfig configures NewKafkaAuditSink.
type KafkaAuditConfig = audit.KafkaConfig

// NewZapAuditSink logs audit events through logger under the "audit" name.
func NewZapAuditSink(logger *zap.Logger) AuditSink {
	return audit.NewZapSink(logger)
}

// NewKafkaAuditSink publishes audit events as JSON to a Kafka topic, keyed
// by user id. Close the returned sink after the engine.
func NewKafkaAuditSink(cfg KafkaAuditConfig) (*audit.KafkaSink, error) {
	return audit.NewKafkaSink(cfg)
}

// NewMultiAuditSink fans each event out to every sink.
func NewMultiAuditSink(sinks ...AuditSink) AuditSink {
	return audit.NewMultiSink(sinks...)
}

// NewChannelAuditSink buffers events in a channel; useful in tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
