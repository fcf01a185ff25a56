package subscription

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/nfrund/turnstile/internal/action"
	"github.com/nfrund/turnstile/internal/topics"
)

// Registry validates subscriptions and stores them together with the topics
// they attach to
type Registry struct {
	topics      *topics.Registry
	loader      *topics.Loader
	logger      *slog.Logger
	byKey       map[action.Key]*Subscription
	ordered     []*Subscription
	descriptors map[any]*action.Descriptor
	mu          sync.RWMutex
}

// Option configures a Registry
type Option func(*Registry)

// WithLoader sets the loader used by AddTopics
func WithLoader(l *topics.Loader) Option {
	return func(r *Registry) {
		r.loader = l
	}
}

// WithLogger sets the registry logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithTopics makes the registry use an existing topic set
func WithTopics(t *topics.Registry) Option {
	return func(r *Registry) {
		r.topics = t
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byKey:       make(map[action.Key]*Subscription),
		descriptors: make(map[any]*action.Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.topics == nil {
		r.topics = topics.NewRegistry()
	}
	if r.loader == nil {
		r.loader = topics.MustNewLoader(nil)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// AddTopics loads the topics declared in the file at path
func (r *Registry) AddTopics(path string) error {
	cfgs, err := r.loader.LoadFile(path)
	if err != nil {
		return err
	}
	return r.AddTopicConfigs(path, cfgs...)
}

// AddTopicsFrom loads the topics declared in r
func (r *Registry) AddTopicsFrom(src io.Reader, format topics.Format, source string) error {
	cfgs, err := r.loader.Load(src, format, source)
	if err != nil {
		return err
	}
	return r.AddTopicConfigs(source, cfgs...)
}

// AddTopicConfigs merges already decoded topic records
func (r *Registry) AddTopicConfigs(source string, cfgs ...topics.Config) error {
	if err := r.topics.Merge(source, cfgs...); err != nil {
		return err
	}
	r.logger.Info("Topics loaded", "source", source, "count", len(cfgs), "total", r.topics.Count())
	return nil
}

// TopicByName returns a loaded topic
func (r *Registry) TopicByName(name string) (*topics.Topic, bool) {
	return r.topics.Get(name)
}

// Topics returns every loaded topic sorted by name
func (r *Registry) Topics() []*topics.Topic {
	return r.topics.List()
}

// TopicSet returns the underlying topic registry
func (r *Registry) TopicSet() *topics.Registry {
	return r.topics
}

// Step is one (object, method) pair of a sequential subscription
type Step struct {
	Object any
	Method string
}

// Subscribe binds object's method to the named topic.
//
// Checks run in this order: object present, method name present, method
// declared as a task or happening handler, topic loaded, pair not bound to
// another topic, permissions usable by a task, guard providers present.
// Subscribing a pair again to the topic it is already bound to returns the
// existing subscription.
func (r *Registry) Subscribe(topicName string, object any, method string) (*Subscription, error) {
	return r.SubscribeSequence(topicName, Step{Object: object, Method: method})
}

// SubscribeSequence binds several task methods, executed in order and
// cycling, to one topic. The topic must declare a permission for every step.
// Guard set i is served by the object of step i modulo the number of steps.
func (r *Registry) SubscribeSequence(topicName string, steps ...Step) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(steps) == 0 {
		return nil, reject(ReasonEmptySequence, topicName, "", "a subscription needs at least one step")
	}

	type resolved struct {
		key    action.Key
		kind   action.Kind
		method action.Method
		desc   *action.Descriptor
	}
	res := make([]resolved, len(steps))
	seen := make(map[action.Key]struct{}, len(steps))

	// Rules that only need the step itself come first, so a bad object or
	// method is reported even when the topic is unknown
	for i, step := range steps {
		if isNil(step.Object) {
			return nil, reject(ReasonNullObject, topicName, step.Method, "object is nil")
		}
		// Whitespace-only names count as empty, as they do at the gate
		if strings.TrimSpace(step.Method) == "" {
			return nil, reject(ReasonNullOrEmptyMethodName, topicName, step.Method, "method name is empty")
		}
		if !action.Comparable(step.Object) {
			return nil, reject(ReasonUncomparableObject, topicName, step.Method,
				fmt.Sprintf("%T cannot be used as a subscription key", step.Object))
		}

		desc, err := r.describe(step.Object)
		if err != nil {
			err.Topic = topicName
			err.Method = step.Method
			return nil, err
		}
		kind, fn := desc.Lookup(step.Method)
		if kind == action.KindNone {
			return nil, reject(ReasonNotAnnotated, topicName, step.Method,
				fmt.Sprintf("%T declares no task or happening handler with this name", step.Object))
		}
		if len(steps) > 1 && kind != action.KindTask {
			return nil, reject(ReasonKindMismatch, topicName, step.Method,
				fmt.Sprintf("step %d is a %s, sequences only accept tasks", i, kind))
		}

		key := action.Key{Owner: step.Object, Method: step.Method}
		if _, dup := seen[key]; dup {
			return nil, reject(ReasonAlreadySubscribed, topicName, step.Method,
				fmt.Sprintf("step %d repeats a method already in the sequence", i))
		}
		seen[key] = struct{}{}
		res[i] = resolved{key: key, kind: kind, method: fn, desc: desc}
	}

	topic, ok := r.topics.Get(topicName)
	if topicName == "" || !ok {
		return nil, reject(ReasonUnknownTopic, topicName, steps[0].Method, "no topic registered under this name")
	}

	// A pair may only ever be bound to one topic
	var existing *Subscription
	for _, rs := range res {
		sub, bound := r.byKey[rs.key]
		if !bound {
			continue
		}
		if sub.topic.Name() != topicName {
			return nil, reject(ReasonAlreadySubscribed, topicName, rs.key.Method,
				fmt.Sprintf("already subscribed to topic %q", sub.topic.Name()))
		}
		existing = sub
	}
	if existing != nil {
		// The same steps on the same topic are already registered, so hand
		// back that subscription instead of creating a second one
		keys := make([]action.Key, len(res))
		for i, rs := range res {
			keys[i] = rs.key
		}
		if slices.Equal(existing.Keys(), keys) {
			r.logger.Debug("Subscription already registered", "topic", topicName, "subscription_id", existing.id)
			return existing, nil
		}
		return nil, reject(ReasonAlreadySubscribed, topicName, steps[0].Method,
			"a method of this sequence is already bound in another subscription of the topic")
	}

	// Happening handlers are triggered from the bus and may run without
	// permissions, tasks may not
	kind := res[0].kind
	if kind == action.KindTask {
		perms := topic.Permissions()
		if len(perms) == 0 {
			return nil, reject(ReasonPermissionRequired, topicName, steps[0].Method,
				"tasks require a topic with permissions")
		}
		for i, p := range perms {
			if strings.TrimSpace(p) == "" {
				return nil, reject(ReasonPermissionMustNotBeBlank, topicName, steps[0].Method,
					fmt.Sprintf("permission %d is blank", i))
			}
		}
		if len(perms) < len(steps) {
			return nil, reject(ReasonNotEnoughPermissions, topicName, steps[0].Method,
				fmt.Sprintf("topic declares %d permissions for %d steps", len(perms), len(steps)))
		}
	}

	guards := make([]map[string]action.GuardFunc, len(steps))
	for i := range guards {
		guards[i] = make(map[string]action.GuardFunc)
	}
	// Guard sets beyond the last step wrap around to the first one
	for set := 0; set < topic.GuardSteps(); set++ {
		owner := set % len(steps)
		for _, name := range topic.GuardCallbacks(set) {
			fn, ok := res[owner].desc.Guard(name)
			if !ok {
				err := reject(ReasonMissingGuardProvider, topicName, steps[owner].Method,
					fmt.Sprintf("%T has no guard provider %q", steps[owner].Object, name))
				err.Guard = name
				return nil, err
			}
			guards[owner][name] = fn
		}
	}

	bindings := make([]*action.Binding, len(steps))
	for i, rs := range res {
		bindings[i] = action.NewBinding(rs.key.Owner, rs.key.Method, rs.kind, rs.method, guards[i])
	}
	sub := newSubscription(topic, kind, bindings)
	for _, rs := range res {
		r.byKey[rs.key] = sub
	}
	r.ordered = append(r.ordered, sub)

	r.logger.Info("Subscribed",
		"topic", topicName,
		"methods", sub.Methods(),
		"kind", kind.String(),
		"shape", sub.Shape(),
		"subscription_id", sub.id,
	)
	return sub, nil
}

// describe evaluates a controller's declarations once and caches them.
// Caller must hold r.mu.
func (r *Registry) describe(object any) (*action.Descriptor, *NotSubscribableError) {
	if d, ok := r.descriptors[object]; ok {
		return d, nil
	}
	c, ok := object.(action.Controller)
	if !ok {
		return nil, &NotSubscribableError{
			Reason:  ReasonNotAnnotated,
			Message: fmt.Sprintf("%T does not implement action.Controller", object),
		}
	}
	d := action.Describe(c)
	if err := d.Err(); err != nil {
		return nil, &NotSubscribableError{
			Reason:  ReasonNotAnnotated,
			Message: fmt.Sprintf("%T has invalid declarations", object),
			Cause:   err,
		}
	}
	r.descriptors[object] = d
	return d, nil
}

func isNil(o any) bool {
	if o == nil {
		return true
	}
	v := reflect.ValueOf(o)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
