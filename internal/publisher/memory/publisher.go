// Package memory records price events in process. It backs tests and runs
// without a Pub/Sub project.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Publisher keeps every event it is handed.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// Message is one recorded publish. Data holds the JSON encoding the Pub/Sub
// publisher would have sent.
type Message struct {
	ID      string
	Topic   string
	Payload any
	Data    []byte
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and records it under topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload, Data: data})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topic returns the messages published to topic.
func (p *Publisher) Topic(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
