// Package subscription validates and records the binding of controller
// methods to topics.
//
// A Registry owns the loaded topics and every subscription made against
// them. Each (object, method) pair belongs to at most one subscription and a
// subscription belongs to exactly one topic for its whole life. Registration
// is expected to finish before workers start; the registry is safe for
// concurrent reads afterwards.
package subscription

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/turnstile/internal/action"
	"github.com/nfrund/turnstile/internal/topics"
)

// Shape distinguishes single-step from multi-step subscriptions
type Shape string

const (
	ShapeSimple            Shape = "simple"
	ShapeComplexSequential Shape = "complex_sequential"
)

// Subscription is an ordered, non-empty sequence of bindings attached to one
// topic. It never changes after the registry creates it.
type Subscription struct {
	id        uuid.UUID
	topic     *topics.Topic
	bindings  []*action.Binding
	kind      action.Kind
	createdAt time.Time
}

func newSubscription(topic *topics.Topic, kind action.Kind, bindings []*action.Binding) *Subscription {
	return &Subscription{
		id:        uuid.New(),
		topic:     topic,
		bindings:  bindings,
		kind:      kind,
		createdAt: time.Now(),
	}
}

// ID returns the subscription's unique identifier
func (s *Subscription) ID() uuid.UUID { return s.id }

// Topic returns the topic the subscription is attached to
func (s *Subscription) Topic() *topics.Topic { return s.topic }

// Kind returns the execution marker shared by every step
func (s *Subscription) Kind() action.Kind { return s.kind }

// CreatedAt returns the registration time
func (s *Subscription) CreatedAt() time.Time { return s.createdAt }

// Size returns the number of steps
func (s *Subscription) Size() int { return len(s.bindings) }

// Shape returns ShapeSimple for one step and ShapeComplexSequential otherwise
func (s *Subscription) Shape() Shape {
	if len(s.bindings) > 1 {
		return ShapeComplexSequential
	}
	return ShapeSimple
}

// Step returns the binding executed at the given step
func (s *Subscription) Step(i int) *action.Binding {
	return s.bindings[i]
}

// Bindings returns a copy of the step bindings in execution order
func (s *Subscription) Bindings() []*action.Binding {
	return slices.Clone(s.bindings)
}

// Keys returns the identity of every bound method
func (s *Subscription) Keys() []action.Key {
	keys := make([]action.Key, len(s.bindings))
	for i, b := range s.bindings {
		keys[i] = b.Key()
	}
	return keys
}

// Methods returns the bound method names in execution order
func (s *Subscription) Methods() []string {
	names := make([]string, len(s.bindings))
	for i, b := range s.bindings {
		names[i] = b.Name()
	}
	return names
}

// String returns a readable description for logs
func (s *Subscription) String() string {
	return s.topic.Name() + "/" + s.id.String()
}

// Info is a serializable summary of a subscription
type Info struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Kind      string    `json:"kind"`
	Shape     Shape     `json:"shape"`
	Methods   []string  `json:"methods"`
	CreatedAt time.Time `json:"created_at"`
}

// Info summarizes the subscription
func (s *Subscription) Info() Info {
	return Info{
		ID:        s.id.String(),
		Topic:     s.topic.Name(),
		Kind:      s.kind.String(),
		Shape:     s.Shape(),
		Methods:   s.Methods(),
		CreatedAt: s.createdAt,
	}
}
