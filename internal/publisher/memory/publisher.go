// Package memory is the run-summary publisher used when no Pub/Sub topic is
// configured: summaries go to the log and are kept for inspection in tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Publisher logs each payload as JSON and retains it.
type Publisher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call. Data is the JSON a Pub/Sub
// publisher would have sent.
type PublishedMessage struct {
	Topic   string
	Payload any
	Data    []byte
}

// New returns a Publisher; a nil logger discards the log lines.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish encodes payload the way the Pub/Sub publisher does, so a payload
// that would fail there fails here too.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	p.mu.Lock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload, Data: data})
	id := fmt.Sprintf("memory-%d", len(p.messages))
	p.mu.Unlock()

	p.logger.Info("run summary", zap.String("message_id", id), zap.ByteString("payload", data))
	return id, nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
