// Package script provides controllers whose tasks, happening handlers and
// guard providers are Tengo scripts.
//
// Every script of a controller sees the same state map. A script changes it
// by assigning to its keys; the map is carried over to the next run.
// Happening handlers also see a happening map with topic, source and the
// decoded payload. Guard scripts must leave a bool in result.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/nfrund/turnstile/internal/action"
	"github.com/nfrund/turnstile/internal/happening"
	"github.com/nfrund/turnstile/internal/subscription"
)

// DefaultTimeout bounds a single script run
const DefaultTimeout = 2 * time.Second

var allowedModules = []string{"fmt", "math", "rand", "text", "times"}

// Controller is an action.Controller backed by Tengo scripts
type Controller struct {
	def     Definition
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	state map[string]any
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger scripts write to through log()
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeout overrides the run timeout of the definition
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a controller and compiles every script once so that syntax
// errors surface before anything is subscribed
func New(def Definition, opts ...Option) (*Controller, error) {
	c := &Controller{
		def:     def,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		state:   maps.Clone(def.State),
	}
	if def.TimeoutMS > 0 {
		c.timeout = time.Duration(def.TimeoutMS) * time.Millisecond
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.state == nil {
		c.state = make(map[string]any)
	}

	for _, m := range def.Methods {
		if _, err := c.compile(m.Name, m.Source, nil); err != nil {
			return nil, err
		}
	}
	for _, g := range def.Guards {
		if _, err := c.compile(g.Name, g.Source, nil); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Name returns the controller name
func (c *Controller) Name() string { return c.def.Name }

// String implements fmt.Stringer
func (c *Controller) String() string { return "script:" + c.def.Name }

// State returns a shallow copy of the shared state
func (c *Controller) State() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.state)
}

// Describe implements action.Controller
func (c *Controller) Describe(d *action.Descriptor) {
	for _, m := range c.def.Methods {
		switch m.Kind {
		case action.KindTask.String():
			d.Task(m.Name, c.method(m))
		case action.KindHappeningHandler.String():
			d.HappeningHandler(m.Name, c.method(m))
		}
	}
	for _, g := range c.def.Guards {
		d.CheckedGuardProvider(g.Name, c.guard(g))
	}
}

// Subscribe binds the controller's declared subscriptions in reg
func (c *Controller) Subscribe(reg *subscription.Registry) ([]*subscription.Subscription, error) {
	subs := make([]*subscription.Subscription, 0, len(c.def.Subscriptions))
	for _, s := range c.def.Subscriptions {
		var (
			sub *subscription.Subscription
			err error
		)
		if len(s.Methods) == 1 {
			sub, err = reg.Subscribe(s.Topic, c, s.Methods[0])
		} else {
			steps := make([]subscription.Step, len(s.Methods))
			for i, m := range s.Methods {
				steps[i] = subscription.Step{Object: c, Method: m}
			}
			sub, err = reg.SubscribeSequence(s.Topic, steps...)
		}
		if err != nil {
			return subs, fmt.Errorf("controller %s: %w", c.def.Name, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *Controller) method(m MethodSpec) action.Method {
	return func(ctx context.Context) error {
		var vars map[string]any
		if h, ok := happening.FromContext(ctx); ok {
			vars = happeningVars(h)
		}
		_, err := c.run(ctx, m.Name, m.Source, vars)
		return err
	}
}

func (c *Controller) guard(g GuardSpec) action.GuardFunc {
	return func() (bool, error) {
		compiled, err := c.run(context.Background(), g.Name, g.Source, nil)
		if err != nil {
			return false, err
		}
		result := compiled.Get("result")
		if result.ValueType() != tengo.TrueValue.TypeName() {
			return false, NewScriptError(ErrorTypeResult, c.def.Name, g.Name, "guard returned "+result.ValueType(), ErrNoResult)
		}
		return result.Bool(), nil
	}
}

// run executes one script against the shared state and stores the state back
func (c *Controller) run(ctx context.Context, name, source string, vars map[string]any) (*tengo.Compiled, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	compiled, err := c.compile(name, source, vars)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := compiled.RunContext(runCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, NewScriptError(ErrorTypeTimeout, c.def.Name, name, fmt.Sprintf("script exceeded %s", c.timeout), err)
		}
		return nil, NewScriptError(ErrorTypeExecution, c.def.Name, name, "script execution failed", err)
	}

	if state := compiled.Get("state").Map(); state != nil {
		c.state = state
	}
	return compiled, nil
}

func (c *Controller) compile(name, source string, vars map[string]any) (*tengo.Compiled, error) {
	s := tengo.NewScript([]byte(source))
	s.SetImports(stdlib.GetModuleMap(allowedModules...))

	if vars == nil {
		vars = map[string]any{}
	}
	if err := s.Add("state", c.state); err != nil {
		return nil, NewScriptError(ErrorTypeCompilation, c.def.Name, name, "failed to set state", err)
	}
	if err := s.Add("happening", vars); err != nil {
		return nil, NewScriptError(ErrorTypeCompilation, c.def.Name, name, "failed to set happening", err)
	}
	if err := s.Add("log", c.logFunc(name)); err != nil {
		return nil, NewScriptError(ErrorTypeCompilation, c.def.Name, name, "failed to add log function", err)
	}

	compiled, err := s.Compile()
	if err != nil {
		return nil, NewScriptError(ErrorTypeCompilation, c.def.Name, name, "failed to compile script", err)
	}
	return compiled, nil
}

func (c *Controller) logFunc(name string) *tengo.UserFunction {
	return &tengo.UserFunction{
		Name: "log",
		Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) == 0 {
				return nil, tengo.ErrWrongNumArguments
			}
			parts := make([]string, len(args))
			for i, a := range args {
				if s, ok := tengo.ToString(a); ok {
					parts[i] = s
				} else {
					parts[i] = a.String()
				}
			}
			c.logger.Info("Script log", "controller", c.def.Name, "script", name, "message", strings.Join(parts, " "))
			return tengo.UndefinedValue, nil
		},
	}
}

func happeningVars(h happening.Happening) map[string]any {
	vars := map[string]any{
		"topic":  h.Topic,
		"source": h.Source,
	}
	if len(h.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(h.Payload, &payload); err == nil {
			vars["payload"] = payload
		} else {
			vars["payload"] = string(h.Payload)
		}
	}
	return vars
}
