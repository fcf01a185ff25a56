// Package gate defines the synchronization authority that workers ask for
// permission before each step.
//
// The gate decides when a transition may fire and may use guard values
// reported by workers to do so. How it decides is not this module's concern:
// Gate is the contract, Local is an in-process implementation for dry runs
// and tests.
package gate

//go:generate mockgen -source=gate.go -destination=mocks/mocks.go -package=mocks Gate

import (
	"context"
	"errors"
)

var (
	// ErrUnknownTransition is returned for a transition the gate does not know
	ErrUnknownTransition = errors.New("unknown transition")

	// ErrIllegalFiring is returned when a transition may not fire
	ErrIllegalFiring = errors.New("illegal transition firing")

	// ErrUnknownGuard is returned for a guard the gate does not know
	ErrUnknownGuard = errors.New("unknown guard")

	// ErrIllegalState is returned when a guard cannot be set in the current state
	ErrIllegalState = errors.New("illegal gate state")

	// ErrBlankTransition is returned for an empty or whitespace transition name
	ErrBlankTransition = errors.New("blank transition name")
)

// Gate is the external synchronization authority.
//
// FireTransition blocks until the named transition is authorized and fired.
// callback is true when the firing signals a completed cycle rather than a
// request to start a step. SetGuard reports a guard value. Both must return
// ctx.Err() when the context ends while they wait.
type Gate interface {
	FireTransition(ctx context.Context, name string, callback bool) error
	SetGuard(ctx context.Context, name string, value bool) error
}
