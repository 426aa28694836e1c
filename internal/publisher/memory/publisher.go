// Package memory records catalog change events in process; used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// attributer mirrors the Pub/Sub publisher's attribute hook.
type attributer interface {
	EventAttributes() map[string]string
}

// Publisher stores published events for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	failWith error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID         string
	Topic      string
	Payload    any
	Attributes map[string]string
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err; nil restores normal behaviour.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records the event and returns a pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.failWith)
	}
	msg := PublishedMessage{
		ID:      fmt.Sprintf("memory-%d", len(p.messages)+1),
		Topic:   topic,
		Payload: payload,
	}
	if a, ok := payload.(attributer); ok {
		msg.Attributes = maps.Clone(a.EventAttributes())
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
