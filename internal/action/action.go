// Package action describes the methods a controller offers for subscription
// and binds them to their owner.
//
// Controllers do not get inspected. They implement Controller and declare
// their tasks, happening handlers and guard providers on a Descriptor, once,
// when they are first subscribed.
package action

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Kind is the execution marker of a method
type Kind int

const (
	// KindNone marks a method that cannot be subscribed
	KindNone Kind = iota
	// KindTask marks a method driven actively by a worker
	KindTask
	// KindHappeningHandler marks a method invoked reactively
	KindHappeningHandler
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindHappeningHandler:
		return "happening_handler"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Method is a subscribable unit of work
type Method func(ctx context.Context) error

// GuardFunc computes a guard value
type GuardFunc func() (bool, error)

// Controller is implemented by every object that can be subscribed
type Controller interface {
	// Describe declares the controller's methods and guard providers
	Describe(d *Descriptor)
}

var (
	// ErrGuardNotBound is returned when a binding has no provider for a guard
	ErrGuardNotBound = errors.New("guard provider not bound")

	// ErrMethodPanicked is wrapped by errors recovered from a panicking method or guard
	ErrMethodPanicked = errors.New("method panicked")
)

// Key identifies a bound method across a registry
type Key struct {
	Owner  any
	Method string
}

// String returns a readable form of the key
func (k Key) String() string {
	return fmt.Sprintf("%T.%s", k.Owner, k.Method)
}

// Comparable reports whether o can be used as part of a Key
func Comparable(o any) bool {
	if o == nil {
		return false
	}
	return reflect.TypeOf(o).Comparable()
}

// Binding is a method bound to its owner together with the guard providers
// it reports through
type Binding struct {
	owner  any
	name   string
	kind   Kind
	method Method
	guards map[string]GuardFunc
}

// NewBinding creates a binding. The guard map is copied.
func NewBinding(owner any, name string, kind Kind, method Method, guards map[string]GuardFunc) *Binding {
	b := &Binding{
		owner:  owner,
		name:   name,
		kind:   kind,
		method: method,
		guards: make(map[string]GuardFunc, len(guards)),
	}
	for k, v := range guards {
		b.guards[k] = v
	}
	return b
}

// Owner returns the object the method belongs to
func (b *Binding) Owner() any { return b.owner }

// Name returns the method name
func (b *Binding) Name() string { return b.name }

// Kind returns the method's execution marker
func (b *Binding) Kind() Kind { return b.kind }

// Key returns the identity of the bound method
func (b *Binding) Key() Key {
	return Key{Owner: b.owner, Method: b.name}
}

// HasGuard reports whether a provider is bound for name
func (b *Binding) HasGuard(name string) bool {
	_, ok := b.guards[name]
	return ok
}

// Execute runs the bound method. A panic is returned as an error wrapping
// ErrMethodPanicked.
func (b *Binding) Execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: %v", b.name, ErrMethodPanicked, r)
		}
	}()
	return b.method(ctx)
}

// GuardValue computes the value of the named guard
func (b *Binding) GuardValue(name string) (value bool, err error) {
	fn, ok := b.guards[name]
	if !ok {
		return false, fmt.Errorf("%s: %w: %q", b.name, ErrGuardNotBound, name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guard %q: %w: %v", name, ErrMethodPanicked, r)
		}
	}()
	value, err = fn()
	if err != nil {
		return false, fmt.Errorf("guard %q: %w", name, err)
	}
	return value, nil
}
