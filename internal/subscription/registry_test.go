package subscription_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/turnstile/internal/action"
	"github.com/nfrund/turnstile/internal/subscription"
	"github.com/nfrund/turnstile/internal/topics"
)

const testTopics = `[
	{"name": "topic1", "permission": [""]},
	{"name": "topic2", "permission": []},
	{"name": "topic3", "permission": "p3", "set_guard_callback": [["g1", "g2"]]},
	{"name": "topic4", "permission": ["p4"], "set_guard_callback": [["g1", "g3"]]},
	{"name": "topic5", "permission": ["p5"]},
	{"name": "topic6", "permission": ["p6a", "p6b"], "set_guard_callback": [["g1"], ["g2"]], "fire_callback": ["c1"]},
	{"name": "topic7"},
	{"name": "topic8", "permission": null},
	{"name": "topic9", "permission": ["p9", " "]},
	{"name": "topic10", "permission": ["p10"]}
]`

type mockController struct {
	guard1 bool
	guard2 bool
}

func (c *mockController) Describe(d *action.Descriptor) {
	d.Task("mockTask", noop)
	d.Task("mockTask2", noop)
	d.HappeningHandler("mockHappeningHandler", noop)
	d.HappeningHandler("mockHappeningHandler2", noop)
	d.GuardProvider("g1", func() bool { return c.guard1 })
	d.GuardProvider("g2", func() bool { return c.guard2 })
}

// notController has methods but declares none of them
type notController struct{ n int }

type valueController map[string]int

func (valueController) Describe(d *action.Descriptor) {
	d.Task("mockTask", noop)
}

func noop(context.Context) error { return nil }

func newTestRegistry(t *testing.T) *subscription.Registry {
	t.Helper()
	r := subscription.NewRegistry()
	require.NoError(t, r.AddTopicsFrom(strings.NewReader(testTopics), topics.FormatJSON, "test"))
	return r
}

func requireReason(t *testing.T, err error, reason subscription.Reason) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, reason, subscription.ReasonOf(err), "got %v", err)
	assert.True(t, errors.Is(err, subscription.ErrReason(reason)))
}

func TestAddTopics(t *testing.T) {
	r := newTestRegistry(t)

	topic1, ok := r.TopicByName("topic1")
	require.True(t, ok)
	assert.Equal(t, []string{""}, topic1.Permissions())

	topic2, _ := r.TopicByName("topic2")
	assert.Empty(t, topic2.Permissions())

	topic3, _ := r.TopicByName("topic3")
	assert.Equal(t, []string{"g1", "g2"}, topic3.GuardCallbacks(0))
	assert.Equal(t, []string{"p3"}, topic3.Permissions())

	_, ok = r.TopicByName("nope")
	assert.False(t, ok)
	assert.Len(t, r.Topics(), 10)

	t.Run("missing file", func(t *testing.T) {
		err := r.AddTopics("/definitely/not/here.json")
		assert.True(t, errors.Is(err, topics.ErrConfigMissing))
	})

	t.Run("malformed source", func(t *testing.T) {
		err := r.AddTopicsFrom(strings.NewReader(`[{"permission": "x"}]`), topics.FormatJSON, "bad")
		assert.True(t, errors.Is(err, topics.ErrConfigFormat))
	})

	t.Run("conflicting re-declaration", func(t *testing.T) {
		err := r.AddTopicsFrom(strings.NewReader(`[{"name": "topic5", "permission": "other"}]`), topics.FormatJSON, "again")
		assert.True(t, errors.Is(err, topics.ErrConfigFormat))
	})

	t.Run("identical re-declaration", func(t *testing.T) {
		err := r.AddTopicsFrom(strings.NewReader(`[{"name": "topic5", "permission": ["p5"]}]`), topics.FormatJSON, "again")
		assert.NoError(t, err)
		assert.Len(t, r.Topics(), 10)
	})
}

func TestSubscribeValidationOrder(t *testing.T) {
	r := newTestRegistry(t)
	c := &mockController{}
	var nilController *mockController

	tests := []struct {
		name   string
		topic  string
		object any
		method string
		reason subscription.Reason
	}{
		{"nil object", "topic5", nil, "mockTask", subscription.ReasonNullObject},
		{"typed nil object", "topic5", nilController, "mockTask", subscription.ReasonNullObject},
		{"nil object wins over empty method", "", nil, "", subscription.ReasonNullObject},
		{"empty method", "topic5", c, "", subscription.ReasonNullOrEmptyMethodName},
		{"blank method wins over unknown topic", "nope", c, "  ", subscription.ReasonNullOrEmptyMethodName},
		{"undeclared method", "topic5", c, "mockNotSubscribableMethod", subscription.ReasonNotAnnotated},
		{"not a controller", "topic5", &notController{}, "mockTask", subscription.ReasonNotAnnotated},
		{"not annotated wins over unknown topic", "nope", c, "mockNotSubscribableMethod", subscription.ReasonNotAnnotated},
		{"uncomparable object", "topic5", valueController{}, "mockTask", subscription.ReasonUncomparableObject},
		{"empty topic name", "", c, "mockTask", subscription.ReasonUnknownTopic},
		{"unknown topic", "nope", c, "mockTask", subscription.ReasonUnknownTopic},
		{"blank permission entry", "topic1", c, "mockTask", subscription.ReasonPermissionMustNotBeBlank},
		{"whitespace permission entry", "topic9", c, "mockTask", subscription.ReasonPermissionMustNotBeBlank},
		{"empty permission list", "topic2", c, "mockTask", subscription.ReasonPermissionRequired},
		{"absent permission", "topic7", c, "mockTask", subscription.ReasonPermissionRequired},
		{"null permission", "topic8", c, "mockTask", subscription.ReasonPermissionRequired},
		{"missing guard provider", "topic4", c, "mockTask", subscription.ReasonMissingGuardProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := r.Subscribe(tt.topic, tt.object, tt.method)
			assert.Nil(t, sub)
			requireReason(t, err, tt.reason)
		})
	}

	assert.Zero(t, r.Count(), "rejected registrations must not be recorded")
}

func TestSubscribeMissingGuardProvider(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Subscribe("topic4", &mockController{}, "mockHappeningHandler")
	require.Error(t, err)
	assert.True(t, errors.Is(err, subscription.ErrMissingGuardProvider("g3")))
	assert.False(t, errors.Is(err, subscription.ErrMissingGuardProvider("g1")))

	var nse *subscription.NotSubscribableError
	require.True(t, errors.As(err, &nse))
	assert.Equal(t, "g3", nse.Guard)
	assert.Equal(t, "topic4", nse.Topic)
	assert.Equal(t, "mockHappeningHandler", nse.Method)
}

func TestSubscribeGuardProviders(t *testing.T) {
	r := newTestRegistry(t)
	c := &mockController{guard1: true}

	sub, err := r.Subscribe("topic3", c, "mockTask")
	require.NoError(t, err)

	b := sub.Step(0)
	assert.True(t, b.HasGuard("g1"))
	assert.True(t, b.HasGuard("g2"))

	v, err := b.GuardValue("g1")
	require.NoError(t, err)
	assert.True(t, v)

	c.guard2 = true
	v, err = b.GuardValue("g2")
	require.NoError(t, err)
	assert.True(t, v, "guard providers are evaluated on every call")
}

func TestHappeningHandlersIgnorePermissions(t *testing.T) {
	for _, topic := range []string{"topic1", "topic2", "topic7", "topic8", "topic9"} {
		t.Run(topic, func(t *testing.T) {
			r := newTestRegistry(t)
			sub, err := r.Subscribe(topic, &mockController{}, "mockHappeningHandler")
			require.NoError(t, err)
			assert.Equal(t, action.KindHappeningHandler, sub.Kind())
			assert.Equal(t, 1, r.HappeningHandlerCount())
		})
	}
}

func TestSubscribeIsIdempotentOnSameTopic(t *testing.T) {
	r := newTestRegistry(t)
	c := &mockController{}

	first, err := r.Subscribe("topic5", c, "mockTask")
	require.NoError(t, err)

	again, err := r.Subscribe("topic5", c, "mockTask")
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, r.SimpleTaskCount())
}

func TestSubscribeOneTopicPerPair(t *testing.T) {
	tests := []struct {
		name   string
		method string
		first  string
		second string
	}{
		{"task", "mockTask", "topic5", "topic10"},
		{"happening handler", "mockHappeningHandler", "topic7", "topic10"},
		{"handler onto task topic", "mockHappeningHandler", "topic10", "topic5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			c := &mockController{}

			_, err := r.Subscribe(tt.first, c, tt.method)
			require.NoError(t, err)

			_, err = r.Subscribe(tt.second, c, tt.method)
			requireReason(t, err, subscription.ReasonAlreadySubscribed)
			assert.Equal(t, 1, r.Count())

			sub, ok := r.Subscription(c, tt.method)
			require.True(t, ok)
			assert.Equal(t, tt.first, sub.Topic().Name())
		})
	}
}

func TestManySubscribersPerTopic(t *testing.T) {
	orders := map[string][2]string{
		"task then handler":    {"mockTask", "mockHappeningHandler"},
		"handler then task":    {"mockHappeningHandler", "mockTask"},
		"task then task":       {"mockTask", "mockTask2"},
		"handler then handler": {"mockHappeningHandler", "mockHappeningHandler2"},
	}

	for name, methods := range orders {
		t.Run(name, func(t *testing.T) {
			r := newTestRegistry(t)
			c := &mockController{}

			for i, m := range methods {
				_, err := r.Subscribe("topic5", c, m)
				require.NoError(t, err)
				assert.Equal(t, i+1, r.Count())
			}

			other := &mockController{}
			_, err := r.Subscribe("topic5", other, methods[0])
			require.NoError(t, err, "the same method name on another object is a different pair")
			assert.Equal(t, 3, r.Count())
			assert.Len(t, r.SubscriptionsFor("topic5"), 3)
		})
	}
}

func TestCounts(t *testing.T) {
	r := newTestRegistry(t)
	c1, c2 := &mockController{}, &mockController{}

	_, err := r.Subscribe("topic5", c1, "mockTask")
	require.NoError(t, err)
	_, err = r.Subscribe("topic3", c1, "mockTask2")
	require.NoError(t, err)
	_, err = r.Subscribe("topic7", c1, "mockHappeningHandler")
	require.NoError(t, err)
	_, err = r.SubscribeSequence("topic6",
		subscription.Step{Object: c2, Method: "mockTask"},
		subscription.Step{Object: c2, Method: "mockTask2"},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, r.SimpleTaskCount())
	assert.Equal(t, 1, r.ComplexTaskCount())
	assert.Equal(t, 1, r.HappeningHandlerCount())
	assert.Len(t, r.Tasks(), 3)
	assert.Equal(t, 4, r.Count())

	subs := r.Subscriptions()
	require.Len(t, subs, 4)
	assert.Equal(t, "topic5", subs[0].Topic().Name(), "registration order is kept")
	assert.Equal(t, "topic6", subs[3].Topic().Name())

	stats := r.Stats()
	assert.Equal(t, 10, stats.Topics)
	assert.Equal(t, 4, stats.Subscriptions)
	assert.Equal(t, 2, stats.SimpleTasks)
	assert.Equal(t, 1, stats.ComplexTasks)
	assert.Equal(t, 1, stats.HappeningHandlers)
	assert.Equal(t, 1, stats.ByTopic["topic6"])
}

func TestSubscribeSequence(t *testing.T) {
	t.Run("builds a complex sequential task", func(t *testing.T) {
		r := newTestRegistry(t)
		c1, c2 := &mockController{}, &mockController{}

		sub, err := r.SubscribeSequence("topic6",
			subscription.Step{Object: c1, Method: "mockTask"},
			subscription.Step{Object: c2, Method: "mockTask"},
		)
		require.NoError(t, err)
		assert.Equal(t, subscription.ShapeComplexSequential, sub.Shape())
		assert.Equal(t, 2, sub.Size())
		assert.Same(t, c1, sub.Step(0).Owner())
		assert.Same(t, c2, sub.Step(1).Owner())
		assert.True(t, sub.Step(0).HasGuard("g1"))
		assert.True(t, sub.Step(1).HasGuard("g2"))
		assert.False(t, sub.Step(0).HasGuard("g2"))

		found, ok := r.Subscription(c2, "mockTask")
		require.True(t, ok)
		assert.Same(t, sub, found)

		again, err := r.SubscribeSequence("topic6",
			subscription.Step{Object: c1, Method: "mockTask"},
			subscription.Step{Object: c2, Method: "mockTask"},
		)
		require.NoError(t, err)
		assert.Same(t, sub, again)

		_, err = r.Subscribe("topic6", c1, "mockTask")
		requireReason(t, err, subscription.ReasonAlreadySubscribed)
	})

	t.Run("rejects bad sequences", func(t *testing.T) {
		r := newTestRegistry(t)
		c := &mockController{}

		_, err := r.SubscribeSequence("topic6")
		requireReason(t, err, subscription.ReasonEmptySequence)

		_, err = r.SubscribeSequence("topic6",
			subscription.Step{Object: c, Method: "mockTask"},
			subscription.Step{Object: c, Method: "mockHappeningHandler"},
		)
		requireReason(t, err, subscription.ReasonKindMismatch)

		_, err = r.SubscribeSequence("topic6",
			subscription.Step{Object: c, Method: "mockTask"},
			subscription.Step{Object: c, Method: "mockTask"},
		)
		requireReason(t, err, subscription.ReasonAlreadySubscribed)

		_, err = r.SubscribeSequence("topic5",
			subscription.Step{Object: c, Method: "mockTask"},
			subscription.Step{Object: c, Method: "mockTask2"},
		)
		requireReason(t, err, subscription.ReasonNotEnoughPermissions)

		_, err = r.SubscribeSequence("topic6",
			subscription.Step{Object: c, Method: "mockTask"},
			subscription.Step{Object: nil, Method: "mockTask2"},
		)
		requireReason(t, err, subscription.ReasonNullObject)

		assert.Zero(t, r.Count())
	})
}

func TestSubscriptionInfo(t *testing.T) {
	r := newTestRegistry(t)
	sub, err := r.Subscribe("topic5", &mockController{}, "mockTask")
	require.NoError(t, err)

	info := sub.Info()
	assert.Equal(t, sub.ID().String(), info.ID)
	assert.Equal(t, "topic5", info.Topic)
	assert.Equal(t, "task", info.Kind)
	assert.Equal(t, subscription.ShapeSimple, info.Shape)
	assert.Equal(t, []string{"mockTask"}, info.Methods)
}
