package subscription

import (
	"slices"

	"github.com/nfrund/turnstile/internal/action"
)

// Subscription returns the subscription object's method is bound to
func (r *Registry) Subscription(object any, method string) (*Subscription, bool) {
	if !action.Comparable(object) {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byKey[action.Key{Owner: object, Method: method}]
	return sub, ok
}

// Subscriptions returns every subscription in registration order
func (r *Registry) Subscriptions() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.ordered)
}

// SubscriptionsFor returns the subscriptions attached to a topic
func (r *Registry) SubscriptionsFor(topicName string) []*Subscription {
	return r.filter(func(s *Subscription) bool {
		return s.topic.Name() == topicName
	})
}

// Tasks returns every task subscription, simple and complex
func (r *Registry) Tasks() []*Subscription {
	return r.filter(func(s *Subscription) bool {
		return s.kind == action.KindTask
	})
}

// SimpleTasks returns the single-step task subscriptions
func (r *Registry) SimpleTasks() []*Subscription {
	return r.filter(func(s *Subscription) bool {
		return s.kind == action.KindTask && s.Shape() == ShapeSimple
	})
}

// ComplexTasks returns the multi-step task subscriptions
func (r *Registry) ComplexTasks() []*Subscription {
	return r.filter(func(s *Subscription) bool {
		return s.kind == action.KindTask && s.Shape() == ShapeComplexSequential
	})
}

// HappeningHandlers returns the happening handler subscriptions
func (r *Registry) HappeningHandlers() []*Subscription {
	return r.filter(func(s *Subscription) bool {
		return s.kind == action.KindHappeningHandler
	})
}

// SimpleTaskCount returns the number of single-step task subscriptions
func (r *Registry) SimpleTaskCount() int { return len(r.SimpleTasks()) }

// ComplexTaskCount returns the number of multi-step task subscriptions
func (r *Registry) ComplexTaskCount() int { return len(r.ComplexTasks()) }

// HappeningHandlerCount returns the number of happening handler subscriptions
func (r *Registry) HappeningHandlerCount() int { return len(r.HappeningHandlers()) }

// Count returns the number of subscriptions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.ordered)
}

func (r *Registry) filter(keep func(*Subscription) bool) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, s := range r.ordered {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// Stats summarizes the registry contents
type Stats struct {
	Topics            int            `json:"topics"`
	Subscriptions     int            `json:"subscriptions"`
	SimpleTasks       int            `json:"simple_tasks"`
	ComplexTasks      int            `json:"complex_tasks"`
	HappeningHandlers int            `json:"happening_handlers"`
	ByTopic           map[string]int `json:"by_topic"`
}

// Stats returns counts over the registry
func (r *Registry) Stats() Stats {
	stats := Stats{
		Topics:  r.topics.Count(),
		ByTopic: make(map[string]int),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats.Subscriptions = len(r.ordered)
	for _, s := range r.ordered {
		stats.ByTopic[s.topic.Name()]++
		switch {
		case s.kind == action.KindHappeningHandler:
			stats.HappeningHandlers++
		case s.Shape() == ShapeComplexSequential:
			stats.ComplexTasks++
		default:
			stats.SimpleTasks++
		}
	}
	return stats
}
