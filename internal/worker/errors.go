package worker

import (
	"errors"
	"fmt"

	"github.com/nfrund/turnstile/internal/gate"
)

var (
	// ErrMissingPermission is returned when a step has no permission transition
	ErrMissingPermission = errors.New("no permission declared for step")

	// ErrAlreadyStarted is returned by Run on a worker that already ran
	ErrAlreadyStarted = errors.New("worker already started")
)

// Severity says whether an execution error stops the worker
type Severity int

const (
	// Tolerated errors are logged and the worker continues
	Tolerated Severity = iota
	// Fatal errors stop the worker for good
	Fatal
)

// String returns the severity name
func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "tolerated"
}

// Phase is the part of an iteration an error came from
type Phase string

const (
	PhasePermission Phase = "permission"
	PhaseExecute    Phase = "execute"
	PhaseGuard      Phase = "guard"
	PhaseCallback   Phase = "callback"
)

// StepError describes an error raised while driving a subscription
type StepError struct {
	Severity Severity
	Phase    Phase
	Topic    string
	// Name is the transition, method or guard involved
	Name string
	Step int
	Err  error
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s error on topic %q step %d (%s): %v",
		e.Severity, e.Phase, e.Topic, e.Step, e.Name, e.Err)
}

// Unwrap returns the underlying error
func (e *StepError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a fatal StepError
func IsFatal(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Severity == Fatal
}

// classify decides the severity of an error raised in phase. Only a blank
// completion callback is tolerated.
func classify(phase Phase, err error) Severity {
	if phase == PhaseCallback && errors.Is(err, gate.ErrBlankTransition) {
		return Tolerated
	}
	return Fatal
}
