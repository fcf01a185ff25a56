package action

import (
	"errors"
	"fmt"
	"sort"
)

type declared struct {
	kind   Kind
	method Method
}

// Descriptor collects what a controller declares in Describe
type Descriptor struct {
	methods map[string]declared
	guards  map[string]GuardFunc
	errs    []error
}

// Describe runs c.Describe on a fresh Descriptor
func Describe(c Controller) *Descriptor {
	d := &Descriptor{
		methods: make(map[string]declared),
		guards:  make(map[string]GuardFunc),
	}
	c.Describe(d)
	return d
}

// Task declares a method driven by a worker
func (d *Descriptor) Task(name string, fn Method) {
	d.method(name, KindTask, fn)
}

// HappeningHandler declares a method invoked when its topic happens
func (d *Descriptor) HappeningHandler(name string, fn Method) {
	d.method(name, KindHappeningHandler, fn)
}

// GuardProvider declares a guard value provider
func (d *Descriptor) GuardProvider(name string, fn func() bool) {
	if fn == nil {
		d.CheckedGuardProvider(name, nil)
		return
	}
	d.CheckedGuardProvider(name, func() (bool, error) { return fn(), nil })
}

// CheckedGuardProvider declares a guard value provider that can fail
func (d *Descriptor) CheckedGuardProvider(name string, fn GuardFunc) {
	switch {
	case name == "":
		d.errs = append(d.errs, errors.New("guard provider with empty name"))
	case fn == nil:
		d.errs = append(d.errs, fmt.Errorf("guard provider %q is nil", name))
	default:
		if _, dup := d.guards[name]; dup {
			d.errs = append(d.errs, fmt.Errorf("guard provider %q declared twice", name))
			return
		}
		d.guards[name] = fn
	}
}

func (d *Descriptor) method(name string, kind Kind, fn Method) {
	switch {
	case name == "":
		d.errs = append(d.errs, fmt.Errorf("%s with empty name", kind))
	case fn == nil:
		d.errs = append(d.errs, fmt.Errorf("%s %q is nil", kind, name))
	default:
		if _, dup := d.methods[name]; dup {
			d.errs = append(d.errs, fmt.Errorf("method %q declared twice", name))
			return
		}
		d.methods[name] = declared{kind: kind, method: fn}
	}
}

// Lookup reports the execution marker of a method. Unknown methods are KindNone.
func (d *Descriptor) Lookup(name string) (Kind, Method) {
	m, ok := d.methods[name]
	if !ok {
		return KindNone, nil
	}
	return m.kind, m.method
}

// Guard resolves a guard provider by name
func (d *Descriptor) Guard(name string) (GuardFunc, bool) {
	fn, ok := d.guards[name]
	return fn, ok
}

// Methods returns the declared method names of the given kind, sorted
func (d *Descriptor) Methods(kind Kind) []string {
	var names []string
	for name, m := range d.methods {
		if m.kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Guards returns the declared guard provider names, sorted
func (d *Descriptor) Guards() []string {
	names := make([]string, 0, len(d.guards))
	for name := range d.guards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Err returns every declaration mistake joined, or nil
func (d *Descriptor) Err() error {
	return errors.Join(d.errs...)
}
