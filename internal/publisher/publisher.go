// Package publisher announces finished jobs to downstream consumers. The
// memory, pubsub and nats subpackages provide the transports.
package publisher

import (
	"context"
	"time"
)

// Publisher sends one payload to topic and returns the transport's message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Completion is the payload published when an optimize job finishes.
type Completion struct {
	JobID       string    `json:"job_id"`
	VideoID     string    `json:"video_id"`
	Status      string    `json:"status"`
	ResultURI   string    `json:"result_uri,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Discard drops every message.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
