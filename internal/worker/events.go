package worker

import (
	"time"
)

// EventType names something that happened in a worker
type EventType string

const (
	EventWorkerStarted   EventType = "worker_started"
	EventStepCompleted   EventType = "step_completed"
	EventCycleCompleted  EventType = "cycle_completed"
	EventCallbackSkipped EventType = "callback_skipped"
	EventWorkerStopped   EventType = "worker_stopped"
	EventWorkerFailed    EventType = "worker_failed"
)

// Event is reported to observers as a worker makes progress
type Event struct {
	Type     EventType `json:"type"`
	WorkerID string    `json:"worker_id"`
	Topic    string    `json:"topic"`
	Step     int       `json:"step"`
	Name     string    `json:"name,omitempty"`
	Cycle    int64     `json:"cycle"`
	Phase    Phase     `json:"phase,omitempty"`
	Err      string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Observer receives worker events. Observe is called from the worker's
// goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Observe implements Observer
func (f ObserverFunc) Observe(e Event) { f(e) }

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Observers fans events out to every non-nil observer
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
