package topics

import (
	"slices"
	"sort"
)

// Topic is an immutable, validated topic declaration. It is safe for
// concurrent use.
type Topic struct {
	name        string
	permissions []string
	guards      [][]string
	fire        []string
}

// New builds a Topic from its configuration record
func New(cfg Config) (*Topic, error) {
	if cfg.Name == "" {
		return nil, &ConfigError{
			Type:    ErrorConfigFormat,
			Message: "topic name cannot be empty",
		}
	}

	guards, err := cfg.GuardSets()
	if err != nil {
		return nil, &ConfigError{
			Type:    ErrorConfigFormat,
			Topic:   cfg.Name,
			Message: "conflicting guard declaration",
			Cause:   err,
		}
	}

	t := &Topic{
		name:        cfg.Name,
		permissions: slices.Clone([]string(cfg.Permission)),
		guards:      make([][]string, len(guards)),
		fire:        slices.Clone(cfg.FireCallback),
	}
	for i, set := range guards {
		t.guards[i] = slices.Clone(set)
	}
	return t, nil
}

// Name returns the topic's unique identifier
func (t *Topic) Name() string {
	return t.name
}

// HasPermission reports whether the topic declares any permission entry
func (t *Topic) HasPermission() bool {
	return len(t.permissions) > 0
}

// Permissions returns a copy of the permission sequence
func (t *Topic) Permissions() []string {
	return slices.Clone(t.permissions)
}

// Permission returns the permission transition for the given step
func (t *Topic) Permission(step int) (string, bool) {
	if step < 0 || step >= len(t.permissions) {
		return "", false
	}
	return t.permissions[step], true
}

// GuardSteps returns the number of declared guard sets
func (t *Topic) GuardSteps() int {
	return len(t.guards)
}

// GuardCallbacks returns the guard names reported after the given step.
// Steps without a declared set report nothing.
func (t *Topic) GuardCallbacks(step int) []string {
	if step < 0 || step >= len(t.guards) {
		return nil
	}
	return slices.Clone(t.guards[step])
}

// GuardNames returns every distinct guard name, sorted
func (t *Topic) GuardNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, set := range t.guards {
		for _, name := range set {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FireCallbacks returns a copy of the transitions fired after each full cycle
func (t *Topic) FireCallbacks() []string {
	return slices.Clone(t.fire)
}

// Config returns the topic as a configuration record
func (t *Topic) Config() Config {
	cfg := Config{
		Name:         t.name,
		Permission:   PermissionList(t.Permissions()),
		FireCallback: t.FireCallbacks(),
	}
	if len(t.guards) > 0 {
		cfg.SetGuardCallback = make([][]string, len(t.guards))
		for i := range t.guards {
			cfg.SetGuardCallback[i] = t.GuardCallbacks(i)
		}
	}
	return cfg
}

// Equal reports whether two topics declare exactly the same body
func (t *Topic) Equal(other *Topic) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.name == other.name &&
		slices.Equal(t.permissions, other.permissions) &&
		slices.EqualFunc(t.guards, other.guards, slices.Equal[[]string]) &&
		slices.Equal(t.fire, other.fire)
}

// String returns the topic name for easy debugging
func (t *Topic) String() string {
	return t.name
}
