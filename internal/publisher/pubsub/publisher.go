// Package pubsub publishes price events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Publisher sends JSON payloads to topics of one project. Topic handles are
// created lazily and kept until Close.
type Publisher struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New wraps an existing client.
func New(client *pubsub.Client, logger *zap.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger, topics: make(map[string]*pubsub.Topic)}, nil
}

// Publish marshals payload, injects the trace context into the message
// attributes and waits for the server-assigned ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	otel.GetTextMapPropagator().Inject(ctx, carrier(msg.Attributes))

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("event published", zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

// Close flushes pending messages on every topic.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// carrier adapts message attributes to propagation.TextMapCarrier.
type carrier map[string]string

func (c carrier) Get(key string) string { return c[key] }

func (c carrier) Set(key, value string) { c[key] = value }

func (c carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
