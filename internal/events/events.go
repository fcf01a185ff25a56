// Package events publishes worker lifecycle events on the bus.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/nfrund/turnstile/internal/pubsub"
	"github.com/nfrund/turnstile/internal/worker"
)

// WorkerEvents is the typed bus topic worker events are published on
var WorkerEvents = pubsub.NewEvent[worker.Event]("turnstile.worker.events")

// Publisher forwards worker events to the bus. It implements worker.Observer.
type Publisher struct {
	pub     pubsub.Publisher
	logger  *slog.Logger
	timeout time.Duration
}

// NewPublisher creates an event publisher
func NewPublisher(pub pubsub.Publisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{pub: pub, logger: logger, timeout: time.Second}
}

// Observe implements worker.Observer
func (p *Publisher) Observe(e worker.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := pubsub.Publish(ctx, p.pub, WorkerEvents, e.WorkerID, e); err != nil {
		p.logger.Warn("Failed to publish worker event", "type", e.Type, "worker_id", e.WorkerID, "error", err)
	}
}
