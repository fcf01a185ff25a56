package happening_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/turnstile/internal/action"
	"github.com/nfrund/turnstile/internal/gate"
	"github.com/nfrund/turnstile/internal/happening"
	"github.com/nfrund/turnstile/internal/pubsub"
	"github.com/nfrund/turnstile/internal/subscription"
)

type alarm struct {
	mu      sync.Mutex
	seen    []happening.Happening
	broken  bool
	ringing bool
}

func (a *alarm) Describe(d *action.Descriptor) {
	d.HappeningHandler("onDoorOpened", func(ctx context.Context) error {
		if a.broken {
			return errors.New("sensor offline")
		}
		h, _ := happening.FromContext(ctx)
		a.mu.Lock()
		a.seen = append(a.seen, h)
		a.ringing = true
		a.mu.Unlock()
		return nil
	})
	d.GuardProvider("ringing", func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.ringing
	})
}

func (a *alarm) Seen() []happening.Happening {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]happening.Happening(nil), a.seen...)
}

const doorTopics = `[
	{"name": "door_opened", "set_guard_callback": [["ringing"]], "fire_callback": ["alarm_raised"]}
]`

func setup(t *testing.T, a *alarm) (*subscription.Registry, *gate.Local, *pubsub.WatermillBridge) {
	t.Helper()
	r := subscription.NewRegistry()
	require.NoError(t, r.AddTopicsFrom(strings.NewReader(doorTopics), "json", "test"))
	_, err := r.Subscribe("door_opened", a, "onDoorOpened")
	require.NoError(t, err)

	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })

	g := gate.NewLocal(gate.WithTopics(r.Topics()...))
	return r, g, bus
}

func TestDispatcherInvokesHandlers(t *testing.T) {
	a := &alarm{}
	r, g, bus := setup(t, a)

	d, err := happening.NewDispatcher(r, bus, g)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))

	require.NoError(t, happening.Raise(ctx, bus, "door_opened", "front-door", json.RawMessage(`{"floor":2}`)))

	require.Eventually(t, func() bool { return d.Handled() == 1 }, time.Second, 5*time.Millisecond)

	seen := a.Seen()
	require.Len(t, seen, 1)
	assert.Equal(t, "door_opened", seen[0].Topic)
	assert.Equal(t, "front-door", seen[0].Source)
	assert.JSONEq(t, `{"floor":2}`, string(seen[0].Payload))

	v, reported := g.Guard("ringing")
	assert.True(t, reported)
	assert.True(t, v)
	assert.Equal(t, 1, g.FiringCount("alarm_raised"))
}

func TestDispatcherCountsFailures(t *testing.T) {
	a := &alarm{broken: true}
	r, g, bus := setup(t, a)

	d, err := happening.NewDispatcher(r, bus, g)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	require.NoError(t, happening.Raise(ctx, bus, "door_opened", "", nil))

	require.Eventually(t, func() bool { return d.Failed() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, d.Handled())
	assert.Zero(t, g.FiringCount("alarm_raised"))
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := happening.NewDispatcher(nil, pubsub.NewWatermillBridge(), gate.NewLocal())
	assert.Error(t, err)
}

func TestBusTopic(t *testing.T) {
	assert.Equal(t, "turnstile.happening.door_opened", happening.BusTopic("door_opened"))
}
