package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus publishes engine lifecycle events to per-company and per-ticket
// Redis channels and mirrors them to the WebSocket hub for connected
// dashboards. Implements the engine's Events interface.
type Bus struct {
	rdb   *redis.Client
	log   *zap.Logger
	ctx   context.Context
	wsHub WSHub
}

type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{
		rdb: rdb,
		log: log,
		ctx: context.Background(),
	}
}

// SetWSHub sets the WebSocket hub for event broadcasting
func (b *Bus) SetWSHub(hub WSHub) {
	b.wsHub = hub
}

// PublishCompany publishes an event to a company's channel
func (b *Bus) PublishCompany(companyID int64, event map[string]interface{}) error {
	return b.Publish(fmt.Sprintf("company:%d", companyID), event)
}

// PublishTicket publishes an event to a ticket's channel
func (b *Bus) PublishTicket(ticketID int64, event map[string]interface{}) error {
	return b.Publish(fmt.Sprintf("ticket:%d", ticketID), event)
}

// Publish publishes an event to a channel
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := b.rdb.Publish(b.ctx, channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	if b.wsHub != nil {
		b.wsHub.Publish(channel, event)
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.String("event", string(data)))
	return nil
}
