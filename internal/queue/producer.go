package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Publisher is the subset of Connection a Producer needs.
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Producer publishes typed envelopes.
type Producer struct {
	conn Publisher
	now  func() time.Time
}

// NewProducer creates a new queue producer
func NewProducer(conn Publisher) *Producer {
	return &Producer{conn: conn, now: time.Now}
}

// Publish wraps v in an Envelope of the given type and publishes it to queue.
// It returns the envelope id.
func (p *Producer) Publish(ctx context.Context, queue, typ string, v any) (uuid.UUID, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal %s message: %w", typ, err)
	}
	env := Envelope{
		ID:        uuid.New(),
		Type:      typ,
		Body:      body,
		CreatedAt: p.now(),
	}
	if err := p.conn.PublishJSON(ctx, queue, env); err != nil {
		return uuid.Nil, fmt.Errorf("publish %s message: %w", typ, err)
	}
	return env.ID, nil
}
