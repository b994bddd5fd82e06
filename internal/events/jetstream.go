package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	// StreamName is the JetStream stream holding certificate events.
	StreamName = "CERTCHAIN_EVENTS"
	// SubjectPrefix prefixes every event subject: certchain.certificates.<type>.
	SubjectPrefix = "certchain.certificates"
)

// streamPublisher is the subset of jetstream.JetStream used for publishing.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes events as JSON to NATS JetStream.
type JetStreamPublisher struct {
	js     streamPublisher
	logger *zap.Logger
}

// NewJetStreamPublisher wraps an existing JetStream context.
func NewJetStreamPublisher(js jetstream.JetStream, logger *zap.Logger) *JetStreamPublisher {
	return &JetStreamPublisher{js: js, logger: logger}
}

// Connect dials NATS at url, ensures the event stream exists and returns a
// publisher together with the connection so the caller can drain it.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*JetStreamPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("certchain"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	if err := EnsureStream(ctx, js); err != nil {
		nc.Close()
		return nil, nil, err
	}
	logger.Info("ensured event stream", zap.String("stream", StreamName))
	return NewJetStreamPublisher(js, logger), nc, nil
}

// EnsureStream creates or updates the certificate event stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	return nil
}

// Subject returns the subject an event of the given type is published on.
func Subject(eventType string) string {
	return SubjectPrefix + "." + eventType
}

// Publish implements Publisher. The content hash is used as the message ID
// so JetStream deduplicates retried publishes of the same event.
func (p *JetStreamPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msgID := evt.Type + ":" + evt.ContentHash
	if _, err := p.js.Publish(ctx, Subject(evt.Type), data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}
