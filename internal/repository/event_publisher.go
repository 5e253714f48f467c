package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// EventPublisher fans ledger events out on a Redis pub/sub channel.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

// NewEventPublisher constructs a publisher. A nil client makes Publish a no-op.
func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	return &EventPublisher{client: client, channel: channel}
}

// Publish sends one event to the configured channel.
func (p *EventPublisher) Publish(ctx context.Context, event models.LedgerEvent) error {
	if p.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event %s: %w", event.ID, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}
