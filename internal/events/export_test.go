package events

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// PublishFunc adapts a function to the publishing subset of JetStream.
type PublishFunc func(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)

func (f PublishFunc) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	return f(ctx, subject, data, opts...)
}

// NewTestPublisher builds a JetStreamPublisher over fn.
func NewTestPublisher(fn PublishFunc) *JetStreamPublisher {
	return &JetStreamPublisher{js: fn, logger: zap.NewNop()}
}

// SetWebhookDelays replaces the retry schedule of p.
func SetWebhookDelays(p *WebhookPublisher, delays ...time.Duration) {
	p.delays = delays
}
