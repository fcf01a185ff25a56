package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nfrund/turnstile/internal/gate"
	"github.com/nfrund/turnstile/internal/subscription"
)

// Pool runs one worker per task subscription of a registry
type Pool struct {
	workers []*Worker
	opts    options
}

// NewPool creates a worker for every task subscription in reg
func NewPool(reg *subscription.Registry, g gate.Gate, opts ...Option) (*Pool, error) {
	if reg == nil {
		return nil, errors.New("pool requires a registry")
	}
	if g == nil {
		return nil, errors.New("pool requires a gate")
	}

	o := buildOptions(opts)
	p := &Pool{opts: o}
	for _, sub := range reg.Tasks() {
		p.workers = append(p.workers, newWorker(sub, g, o))
	}
	return p, nil
}

// Workers returns the pool's workers
func (p *Pool) Workers() []*Worker {
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Run starts every worker and waits for all of them to end. Workers end
// when ctx is cancelled or on their own fatal error; a fatal error does not
// stop the other workers. Run returns the first fatal error, or nil when
// every worker stopped on cancellation.
func (p *Pool) Run(ctx context.Context) error {
	p.opts.logger.Info("Starting worker pool", "workers", len(p.workers))

	var g errgroup.Group
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			err := w.Run(ctx)
			if IsFatal(err) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	p.opts.logger.Info("Worker pool stopped", "failed", p.failed())
	return err
}

func (p *Pool) failed() int {
	n := 0
	for _, w := range p.workers {
		if w.State() == StateFailed {
			n++
		}
	}
	return n
}

// Status is a snapshot of one worker
type Status struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	Topic          string    `json:"topic"`
	Methods        []string  `json:"methods"`
	State          State     `json:"state"`
	Step           int       `json:"step"`
	Cycles         int64     `json:"cycles"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	Error          string    `json:"error,omitempty"`
}

// Status returns a snapshot of the worker
func (w *Worker) Status() Status {
	w.mu.Lock()
	state, err, started := w.state, w.err, w.startedAt
	w.mu.Unlock()

	s := Status{
		ID:             w.id.String(),
		SubscriptionID: w.sub.ID().String(),
		Topic:          w.sub.Topic().Name(),
		Methods:        w.sub.Methods(),
		State:          state,
		Step:           w.Step(),
		Cycles:         w.Cycles(),
		StartedAt:      started,
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// Statuses returns a snapshot of every worker
func (p *Pool) Statuses() []Status {
	out := make([]Status, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Status()
	}
	return out
}
