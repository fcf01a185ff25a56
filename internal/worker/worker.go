// Package worker drives task subscriptions against a gate.
//
// Each iteration of a worker asks the gate for the current step's
// permission, runs the step's method, reports the step's guard values and
// advances the step. After the last step of a subscription it fires the
// topic's completion callbacks. Errors are fatal and stop the worker, except
// a blank completion callback which is logged and skipped. Cancelling the
// context stops the worker without error classification.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nfrund/turnstile/internal/action"
	"github.com/nfrund/turnstile/internal/gate"
	"github.com/nfrund/turnstile/internal/subscription"
)

// State is the lifecycle state of a worker
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

type options struct {
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// Option configures workers and pools
type Option func(*options)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver sets the observer notified of worker events
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithTracer records a span per step
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.observer == nil {
		o.observer = Observers()
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("turnstile/worker")
	}
	return o
}

// Worker drives one subscription
type Worker struct {
	id   uuid.UUID
	sub  *subscription.Subscription
	gate gate.Gate
	opts options
	log  *slog.Logger

	// permissionOptional skips steps without a permission instead of failing
	permissionOptional bool

	step   atomic.Int64
	cycles atomic.Int64

	mu        sync.Mutex
	state     State
	err       error
	startedAt time.Time
}

// New creates a worker for a task subscription
func New(sub *subscription.Subscription, g gate.Gate, opts ...Option) (*Worker, error) {
	if sub == nil {
		return nil, errors.New("worker requires a subscription")
	}
	if g == nil {
		return nil, errors.New("worker requires a gate")
	}
	if sub.Kind() != action.KindTask {
		return nil, fmt.Errorf("worker requires a task subscription, got %s", sub.Kind())
	}
	return newWorker(sub, g, buildOptions(opts)), nil
}

func newWorker(sub *subscription.Subscription, g gate.Gate, o options) *Worker {
	id := uuid.New()
	return &Worker{
		id:    id,
		sub:   sub,
		gate:  g,
		opts:  o,
		state: StateIdle,
		log: o.logger.With(
			"worker_id", id.String(),
			"topic", sub.Topic().Name(),
			"subscription_id", sub.ID().String(),
		),
	}
}

// ID returns the worker's identifier
func (w *Worker) ID() uuid.UUID { return w.id }

// Subscription returns the driven subscription
func (w *Worker) Subscription() *subscription.Subscription { return w.sub }

// Step returns the step the worker will execute next
func (w *Worker) Step() int { return int(w.step.Load()) }

// Cycles returns the number of completed cycles
func (w *Worker) Cycles() int64 { return w.cycles.Load() }

// State returns the lifecycle state
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error that stopped the worker, if any
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Run drives the subscription until ctx ends or a fatal error occurs.
// It returns ctx.Err() on cancellation and a fatal *StepError otherwise.
// A worker runs once.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.state = StateRunning
	w.startedAt = time.Now()
	w.mu.Unlock()

	w.log.Info("Worker started", "methods", w.sub.Methods())
	w.emit(Event{Type: EventWorkerStarted})

	for {
		// Check for cancellation before every step, not only while blocked in the gate
		if err := ctx.Err(); err != nil {
			return w.finish(err)
		}
		if err := w.iterate(ctx); err != nil {
			return w.finish(err)
		}
	}
}

// finish records how the worker ended
func (w *Worker) finish(err error) error {
	var se *StepError
	fatal := errors.As(err, &se)

	w.mu.Lock()
	if fatal {
		w.state = StateFailed
		w.err = err
	} else {
		w.state = StateStopped
	}
	w.mu.Unlock()

	if fatal {
		w.log.Error("Worker stopped on fatal error",
			"phase", se.Phase,
			"step", se.Step,
			"name", se.Name,
			"error", se.Err,
		)
		w.emit(Event{Type: EventWorkerFailed, Step: se.Step, Name: se.Name, Phase: se.Phase, Err: se.Err.Error()})
		return err
	}

	w.log.Info("Worker stopped", "reason", err, "cycles", w.Cycles())
	w.emit(Event{Type: EventWorkerStopped})
	return err
}

// iterate runs one step. It returns nil to continue, a context error on
// cancellation or a fatal *StepError.
func (w *Worker) iterate(ctx context.Context) error {
	step := w.Step()
	topic := w.sub.Topic()
	binding := w.sub.Step(step)

	ctx, span := w.opts.tracer.Start(ctx, "worker.step",
		trace.WithAttributes(
			attribute.String("turnstile.topic", topic.Name()),
			attribute.String("turnstile.method", binding.Name()),
			attribute.Int("turnstile.step", step),
		),
	)
	defer span.End()

	err := w.runStep(ctx, step, binding)
	if err != nil && ctx.Err() == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (w *Worker) runStep(ctx context.Context, step int, binding *action.Binding) error {
	topic := w.sub.Topic()

	permission, ok := topic.Permission(step)
	blank := strings.TrimSpace(permission) == ""
	// Wait for the gate to authorize this step before running it
	switch {
	case w.permissionOptional && (!ok || blank):
		w.log.Debug("Running step without permission", "step", step)
	case !ok:
		return w.fatal(PhasePermission, permission, step, ErrMissingPermission)
	case blank:
		return w.fatal(PhasePermission, permission, step, gate.ErrBlankTransition)
	default:
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.gate.FireTransition(ctx, permission, false); err != nil {
			// A gate that gave up because we were cancelled is not a failure
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return w.fatal(PhasePermission, permission, step, err)
		}
		// Cancelled while waiting: the step is skipped and the index stays put
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if err := binding.Execute(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return w.fatal(PhaseExecute, binding.Name(), step, err)
	}

	// Report the guard values this step is responsible for
	for _, name := range topic.GuardCallbacks(step) {
		value, err := binding.GuardValue(name)
		if err != nil {
			return w.fatal(PhaseGuard, name, step, err)
		}
		if err := w.gate.SetGuard(ctx, name, value); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return w.fatal(PhaseGuard, name, step, err)
		}
	}

	next := (step + 1) % w.sub.Size()
	w.step.Store(int64(next))
	w.emit(Event{Type: EventStepCompleted, Step: step, Name: binding.Name()})

	// Wrapping back to the first step ends the cycle
	if next != 0 {
		return nil
	}
	return w.completeCycle(ctx, step)
}

func (w *Worker) completeCycle(ctx context.Context, step int) error {
	for _, name := range w.sub.Topic().FireCallbacks() {
		var err error
		if strings.TrimSpace(name) == "" {
			err = gate.ErrBlankTransition
		} else {
			err = w.gate.FireTransition(ctx, name, true)
		}
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		se := &StepError{
			Severity: classify(PhaseCallback, err),
			Phase:    PhaseCallback,
			Topic:    w.sub.Topic().Name(),
			Name:     name,
			Step:     step,
			Err:      err,
		}
		// Only blank callbacks are tolerated, everything else stops the worker
		if se.Severity == Fatal {
			return se
		}
		w.log.Warn("Skipping completion callback", "transition", name, "error", err)
		w.emit(Event{Type: EventCallbackSkipped, Step: step, Name: name, Phase: PhaseCallback, Err: err.Error()})
	}

	cycle := w.cycles.Add(1)
	w.log.Debug("Cycle completed", "cycle", cycle)
	w.emit(Event{Type: EventCycleCompleted, Step: step, Cycle: cycle})
	return nil
}

func (w *Worker) fatal(phase Phase, name string, step int, err error) *StepError {
	return &StepError{
		Severity: Fatal,
		Phase:    phase,
		Topic:    w.sub.Topic().Name(),
		Name:     name,
		Step:     step,
		Err:      err,
	}
}

func (w *Worker) emit(e Event) {
	e.WorkerID = w.id.String()
	e.Topic = w.sub.Topic().Name()
	if e.Cycle == 0 {
		e.Cycle = w.Cycles()
	}
	e.Time = time.Now()
	w.opts.observer.Observe(e)
}

// Invoke runs one full cycle of a subscription of any kind and returns.
// Steps without a permission run without asking the gate. It is how
// happening handlers are triggered.
func Invoke(ctx context.Context, sub *subscription.Subscription, g gate.Gate, opts ...Option) error {
	if sub == nil || g == nil {
		return errors.New("invoke requires a subscription and a gate")
	}
	w := newWorker(sub, g, buildOptions(opts))
	w.permissionOptional = true

	for i := 0; i < sub.Size(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.iterate(ctx); err != nil {
			return err
		}
	}
	return nil
}
