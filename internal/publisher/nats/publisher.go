// Package nats publishes job completions to a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Config configures the connection.
type Config struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher publishes JSON payloads. The topic argument of Publish is the
// NATS subject.
type Publisher struct {
	conn conn
}

// Connect dials the server with unlimited reconnects.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(nc *nats.Conn) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	return &Publisher{conn: nc}, nil
}

// Publish sends payload and flushes so the server has it before returning.
// The message id is carried in the Nats-Msg-Id header for deduplication.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	if p == nil || p.conn == nil {
		return "", errors.New("nats publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, id)
	msg.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Header))

	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("nats publish: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("nats flush: %w", err)
	}
	return id, nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// headerCarrier adapts nats.Header to propagation.TextMapCarrier.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string { return nats.Header(c).Get(key) }

func (c headerCarrier) Set(key, value string) { nats.Header(c).Set(key, value) }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
