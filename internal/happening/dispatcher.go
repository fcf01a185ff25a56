// Package happening triggers happening handler subscriptions from the bus.
//
// Every happening handler subscription listens on the bus topic derived from
// its topic name. Each message published there runs one cycle of the
// subscription through worker.Invoke.
package happening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nfrund/turnstile/internal/gate"
	"github.com/nfrund/turnstile/internal/pubsub"
	"github.com/nfrund/turnstile/internal/subscription"
	"github.com/nfrund/turnstile/internal/worker"
)

// TopicPrefix is prepended to topic names to form bus topics
const TopicPrefix = "turnstile.happening."

// BusTopic returns the bus topic happenings of a topic are published on
func BusTopic(topicName string) string {
	return TopicPrefix + topicName
}

// Happening is what handlers find in their context
type Happening struct {
	Topic   string          `json:"topic"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying h
func NewContext(ctx context.Context, h Happening) context.Context {
	return context.WithValue(ctx, contextKey{}, h)
}

// FromContext returns the happening being handled, if any
func FromContext(ctx context.Context) (Happening, bool) {
	h, ok := ctx.Value(contextKey{}).(Happening)
	return h, ok
}

// Raise publishes a happening for the named topic
func Raise(ctx context.Context, p pubsub.Publisher, topicName, source string, payload json.RawMessage) error {
	return p.Publish(ctx, pubsub.Message{
		Topic:   BusTopic(topicName),
		Source:  source,
		Payload: payload,
		Metadata: map[string]string{
			"raised_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

// Dispatcher connects happening handler subscriptions to the bus
type Dispatcher struct {
	registry   *subscription.Registry
	subscriber pubsub.Subscriber
	gate       gate.Gate
	logger     *slog.Logger
	workerOpts []worker.Option
	handled    atomic.Int64
	failed     atomic.Int64
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithWorkerOptions passes options to every invocation
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(d *Dispatcher) {
		d.workerOpts = append(d.workerOpts, opts...)
	}
}

// NewDispatcher creates a dispatcher
func NewDispatcher(reg *subscription.Registry, sub pubsub.Subscriber, g gate.Gate, opts ...Option) (*Dispatcher, error) {
	if reg == nil || sub == nil || g == nil {
		return nil, errors.New("dispatcher requires a registry, a subscriber and a gate")
	}
	d := &Dispatcher{
		registry:   reg,
		subscriber: sub,
		gate:       g,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start subscribes every happening handler. Handlers run until ctx ends.
func (d *Dispatcher) Start(ctx context.Context) error {
	handlers := d.registry.HappeningHandlers()
	for _, s := range handlers {
		s := s
		topic := BusTopic(s.Topic().Name())
		err := d.subscriber.Subscribe(ctx, topic, func(ctx context.Context, msg pubsub.Message) error {
			return d.handle(ctx, s, msg)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	d.logger.Info("Happening dispatcher started", "handlers", len(handlers))
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, s *subscription.Subscription, msg pubsub.Message) error {
	h := Happening{
		Topic:   s.Topic().Name(),
		Source:  msg.Source,
		Payload: json.RawMessage(msg.Payload),
		At:      time.Now(),
	}
	ctx = NewContext(ctx, h)

	if err := worker.Invoke(ctx, s, d.gate, d.workerOpts...); err != nil {
		d.failed.Add(1)
		d.logger.Error("Happening handler failed",
			"topic", h.Topic,
			"methods", s.Methods(),
			"source", h.Source,
			"error", err,
		)
		return err
	}
	d.handled.Add(1)
	return nil
}

// Handled returns the number of successful invocations
func (d *Dispatcher) Handled() int64 { return d.handled.Load() }

// Failed returns the number of failed invocations
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }
