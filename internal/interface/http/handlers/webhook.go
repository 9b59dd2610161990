// Package handlers contains HTTP handler interfaces and implementations
// shared by the Nezuko HTTP interface layer: health checks, middleware,
// and the per-bot webhook registry.
package handlers

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpdateHandler is the narrow surface a per-bot worker exposes to the
// HTTP interface layer: dispatch one already-decoded update. Satisfied
// by *telegram.Worker.HandleUpdate without this package importing the
// telegram package.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// WebhookRegistry maps a bot instance id to the worker that should
// receive its webhook-delivered updates. The Bot Supervisor registers a
// worker here when it starts one and removes it when the worker stops,
// so POST /webhook/{bot_id} can be routed without the HTTP layer
// needing to know how workers are constructed or supervised.
type WebhookRegistry struct {
	mu      sync.RWMutex
	workers map[int64]UpdateHandler
}

// NewWebhookRegistry constructs an empty registry.
func NewWebhookRegistry() *WebhookRegistry {
	return &WebhookRegistry{workers: make(map[int64]UpdateHandler)}
}

// Register associates botInstanceID with the worker that should handle
// its webhook updates, replacing any previous registration (used on
// restart).
func (r *WebhookRegistry) Register(botInstanceID int64, worker UpdateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[botInstanceID] = worker
}

// Unregister removes botInstanceID's worker, if any.
func (r *WebhookRegistry) Unregister(botInstanceID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, botInstanceID)
}

// Dispatch routes update to botInstanceID's registered worker. Returns
// an error if no worker is currently registered for that bot - the
// caller (the webhook HTTP handler) still acknowledges the request to
// Telegram either way, per spec's "always 200 to avoid retries".
func (r *WebhookRegistry) Dispatch(ctx context.Context, botInstanceID int64, update tgbotapi.Update) error {
	r.mu.RLock()
	worker, ok := r.workers[botInstanceID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("handlers: no worker registered for bot instance %d", botInstanceID)
	}
	worker.HandleUpdate(ctx, update)
	return nil
}
