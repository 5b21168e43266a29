// Package events publishes fleet domain events to NATS so downstream
// consumers (dashboards, notifiers) can react to ingestion and corrections.
package events

import (
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Subjects for fleet domain events.
const (
	SubjectReportIngested    = "fleet.report.ingested"
	SubjectCorrectionApplied = "fleet.correction.applied"
	SubjectHierarchyChanged  = "fleet.hierarchy.changed"
)

// Publisher is the narrow publishing interface the service layer depends
// on; tests substitute a mock.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events over a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher wraps an established NATS connection.
func NewNATSPublisher(conn *nats.Conn, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, logger: logger}
}

// Publish sends the event payload to the subject.
func (p *NATSPublisher) Publish(subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish event", "subject", subject, "error", err)
		return err
	}
	p.logger.Debug("Event published", "subject", subject, "bytes", len(data))
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (p *NATSPublisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// NopPublisher discards events. Used in dev mode when NATS is unavailable.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(subject string, data []byte) error { return nil }
