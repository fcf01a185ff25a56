package gate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/turnstile/internal/topics"
)

// Firing is one transition fired through a Local gate
type Firing struct {
	Name     string    `json:"name"`
	Callback bool      `json:"callback"`
	At       time.Time `json:"at"`
}

// DefaultHistory is how many recent firings a Local gate keeps
const DefaultHistory = 256

// Local is an in-process gate over a fixed set of transition and guard
// names. It authorizes every known transition, optionally after a pause,
// counts firings per name and keeps the most recent ones.
type Local struct {
	transitions map[string]struct{}
	guards      map[string]bool
	known       map[string]struct{}
	counts      map[string]int
	history     []Firing
	next        int
	full        bool
	pacing      time.Duration
	logger      *slog.Logger
	mu          sync.Mutex
}

// LocalOption configures a Local gate
type LocalOption func(*Local)

// WithTransitions declares transition names
func WithTransitions(names ...string) LocalOption {
	return func(g *Local) {
		for _, n := range names {
			if strings.TrimSpace(n) != "" {
				g.transitions[n] = struct{}{}
			}
		}
	}
}

// WithGuards declares guard names
func WithGuards(names ...string) LocalOption {
	return func(g *Local) {
		for _, n := range names {
			g.known[n] = struct{}{}
		}
	}
}

// WithTopics declares every permission, fire callback and guard name of the
// given topics
func WithTopics(ts ...*topics.Topic) LocalOption {
	return func(g *Local) {
		for _, t := range ts {
			WithTransitions(t.Permissions()...)(g)
			WithTransitions(t.FireCallbacks()...)(g)
			WithGuards(t.GuardNames()...)(g)
		}
	}
}

// WithHistory sets how many recent firings are kept, at least one
func WithHistory(n int) LocalOption {
	return func(g *Local) {
		if n > 0 {
			g.history = make([]Firing, n)
		}
	}
}

// WithPacing makes every firing wait d before it is authorized.
// Zero authorizes at once, so workers loop as fast as they can.
func WithPacing(d time.Duration) LocalOption {
	return func(g *Local) {
		g.pacing = d
	}
}

// WithLogger sets the gate logger
func WithLogger(l *slog.Logger) LocalOption {
	return func(g *Local) {
		g.logger = l
	}
}

// NewLocal creates a local gate
func NewLocal(opts ...LocalOption) *Local {
	g := &Local{
		transitions: make(map[string]struct{}),
		guards:      make(map[string]bool),
		known:       make(map[string]struct{}),
		counts:      make(map[string]int),
		history:     make([]Firing, DefaultHistory),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FireTransition implements Gate
func (g *Local) FireTransition(ctx context.Context, name string, callback bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return ErrBlankTransition
	}

	g.mu.Lock()
	_, ok := g.transitions[name]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTransition, name)
	}

	if g.pacing > 0 {
		timer := time.NewTimer(g.pacing)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.Lock()
	g.counts[name]++
	// Overwrite the oldest entry once the ring is full
	g.history[g.next] = Firing{Name: name, Callback: callback, At: time.Now()}
	g.next = (g.next + 1) % len(g.history)
	if g.next == 0 {
		g.full = true
	}
	g.mu.Unlock()

	g.logger.Debug("Transition fired", "transition", name, "callback", callback)
	return nil
}

// SetGuard implements Gate
func (g *Local) SetGuard(ctx context.Context, name string, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.known[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGuard, name)
	}
	g.guards[name] = value
	return nil
}

// Firings returns the most recent firings, oldest first
func (g *Local) Firings() []Firing {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.full {
		return slices.Clone(g.history[:g.next])
	}
	out := make([]Firing, 0, len(g.history))
	out = append(out, g.history[g.next:]...)
	return append(out, g.history[:g.next]...)
}

// FiringCount returns how often the named transition has fired
func (g *Local) FiringCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.counts[name]
}

// TotalFirings returns how many transitions have fired in all
func (g *Local) TotalFirings() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, c := range g.counts {
		n += c
	}
	return n
}

// Guard returns the last value reported for a guard
func (g *Local) Guard(name string) (value, reported bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	value, reported = g.guards[name]
	return value, reported
}

// Transitions returns the declared transition names, sorted
func (g *Local) Transitions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.transitions))
	for n := range g.transitions {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
