// Package events publishes certificate lifecycle events for downstream
// consumers. Publishing happens after the ledger write is committed and its
// failure never fails the operation that produced the event.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event types.
const (
	TypeIssued   = "issued"
	TypeTampered = "tampered"
)

// Event is a single certificate lifecycle event.
type Event struct {
	Type        string    `json:"type"`
	ContentHash string    `json:"content_hash"`
	IssuerRef   string    `json:"issuer_ref,omitempty"`
	ChainLink   string    `json:"chain_link,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NoopPublisher logs events at debug level and drops them.
type NoopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher creates a NoopPublisher.
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *NoopPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Debug("event dropped (no broker configured)",
		zap.String("type", evt.Type),
		zap.String("content_hash", evt.ContentHash),
	)
	return nil
}
