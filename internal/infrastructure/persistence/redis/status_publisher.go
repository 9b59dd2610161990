package redis

import (
	"context"

	"github.com/nezuko-platform/nezuko-core/internal/domain/status"
)

// ChannelBotStatus is the pub/sub channel the Status Writer (C8)
// publishes every transition to. Anything reading live bot state
// without polling ListAll subscribes here (spec §B's "fan-out of
// status changes to interested dashboard readers").
const ChannelBotStatus = "nezuko:bot_status"

// statusChangeMessage is the JSON payload published on ChannelBotStatus.
type statusChangeMessage struct {
	BotInstanceID int64       `json:"bot_instance_id"`
	State         status.State `json:"state"`
}

// StatusPublisher fans a BotStatus transition out over Redis pub/sub.
// Satisfies statuswriter.Publisher by structural typing.
type StatusPublisher struct {
	cache *Cache
}

// NewStatusPublisher wraps a Cache as a StatusPublisher.
func NewStatusPublisher(cache *Cache) *StatusPublisher {
	return &StatusPublisher{cache: cache}
}

// PublishStatus publishes one bot instance's new state. Best-effort: a
// publish failure never blocks the Status Writer's own Upsert write,
// the caller only logs it.
func (p *StatusPublisher) PublishStatus(ctx context.Context, botInstanceID int64, state status.State) error {
	return p.cache.Publish(ctx, ChannelBotStatus, statusChangeMessage{BotInstanceID: botInstanceID, State: state})
}
