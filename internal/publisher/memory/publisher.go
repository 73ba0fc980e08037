// Package memory keeps recent completion notifications in process. It backs
// the "memory" notify backend, which is meant for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher retains the most recent messages up to its capacity.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	seq      uint64
	recent   []PublishedMessage
}

// New returns a Publisher that keeps the last capacity messages; zero or
// less keeps everything.
func New(capacity int) *Publisher {
	return &Publisher{capacity: capacity}
}

// Publish records the message under the next sequence id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.recent = append(p.recent, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	if p.capacity > 0 && len(p.recent) > p.capacity {
		p.recent = append(p.recent[:0:0], p.recent[len(p.recent)-p.capacity:]...)
	}
	return id, nil
}

// Messages returns the retained messages, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.recent))
	copy(out, p.recent)
	return out
}

// Published reports how many messages were published in total, including
// ones no longer retained.
func (p *Publisher) Published() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}
