package script

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/turnstile/internal/action"
	"github.com/nfrund/turnstile/internal/happening"
	"github.com/nfrund/turnstile/internal/subscription"
	"github.com/nfrund/turnstile/internal/topics"
)

const controllersYAML = `
controllers:
  - name: pump
    timeout_ms: 500
    state:
      count: 0
    methods:
      - name: prime
        kind: task
        source: state.count += 1
      - name: flush
        kind: task
        source: state.count += 10
      - name: alarm
        kind: happening_handler
        source: state.level = happening.payload.level
    guards:
      - name: ready
        source: result := state.count > 1
    subscriptions:
      - topic: Pump
        methods: [prime, flush]
`

func mustController(t *testing.T, def Definition, opts ...Option) *Controller {
	t.Helper()
	c, err := New(def, opts...)
	require.NoError(t, err)
	return c
}

func task(t *testing.T, c *Controller, name string) action.Method {
	t.Helper()
	d := action.Describe(c)
	require.NoError(t, d.Err())
	kind, fn := d.Lookup(name)
	require.NotEqual(t, action.KindNone, kind)
	return fn
}

func TestLoad(t *testing.T) {
	t.Run("yaml file", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/etc/controllers.yaml", []byte(controllersYAML), 0o644))

		file, err := LoadFile(fsys, "/etc/controllers.yaml")
		require.NoError(t, err)
		require.Len(t, file.Controllers, 1)

		def := file.Controllers[0]
		assert.Equal(t, "pump", def.Name)
		assert.Equal(t, 500, def.TimeoutMS)
		assert.Len(t, def.Methods, 3)
		assert.Equal(t, []string{"prime", "flush"}, def.Subscriptions[0].Methods)
	})

	t.Run("json", func(t *testing.T) {
		src := `{"controllers":[{"name":"c","methods":[{"name":"m","kind":"task","source":"x := 1"}]}]}`
		file, err := Load(strings.NewReader(src), topics.FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "c", file.Controllers[0].Name)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(afero.NewMemMapFs(), "/nope.json")
		typ, ok := TypeOf(err)
		require.True(t, ok)
		assert.Equal(t, ErrorTypeFormat, typ)
	})

	invalid := map[string]string{
		"no controllers": `{"controllers":[]}`,
		"bad kind":       `{"controllers":[{"name":"c","methods":[{"name":"m","kind":"job","source":"x := 1"}]}]}`,
		"no source":      `{"controllers":[{"name":"c","methods":[{"name":"m","kind":"task"}]}]}`,
		"blank guard":    `{"controllers":[{"name":"c","guards":[{"name":"","source":"result := true"}]}]}`,
		"empty sub":      `{"controllers":[{"name":"c","subscriptions":[{"topic":"T","methods":[]}]}]}`,
		"duplicate":      `{"controllers":[{"name":"c"},{"name":"c"}]}`,
		"not json":       `{`,
	}
	for name, src := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(src), topics.FormatJSON)
			require.Error(t, err)
			typ, ok := TypeOf(err)
			require.True(t, ok)
			assert.Equal(t, ErrorTypeFormat, typ)
		})
	}
}

func TestNewRejectsSyntaxErrors(t *testing.T) {
	_, err := New(Definition{
		Name:    "broken",
		Methods: []MethodSpec{{Name: "m", Kind: "task", Source: "x := "}},
	})
	require.Error(t, err)
	typ, _ := TypeOf(err)
	assert.Equal(t, ErrorTypeCompilation, typ)
}

func TestTasksShareState(t *testing.T) {
	file, err := Load(strings.NewReader(controllersYAML), topics.FormatYAML)
	require.NoError(t, err)
	c := mustController(t, file.Controllers[0])

	ctx := context.Background()
	require.NoError(t, task(t, c, "prime")(ctx))
	require.NoError(t, task(t, c, "flush")(ctx))

	assert.Equal(t, int64(11), c.State()["count"])
}

func TestGuard(t *testing.T) {
	c := mustController(t, Definition{
		Name:  "g",
		State: map[string]any{"count": 0},
		Methods: []MethodSpec{
			{Name: "tick", Kind: "task", Source: "state.count += 1"},
		},
		Guards: []GuardSpec{
			{Name: "ready", Source: "result := state.count > 1"},
			{Name: "silent", Source: "x := 1"},
		},
	})
	d := action.Describe(c)
	ready, ok := d.Guard("ready")
	require.True(t, ok)

	v, err := ready()
	require.NoError(t, err)
	assert.False(t, v)

	_, tick := d.Lookup("tick")
	require.NoError(t, tick(context.Background()))
	require.NoError(t, tick(context.Background()))

	v, err = ready()
	require.NoError(t, err)
	assert.True(t, v)

	silent, _ := d.Guard("silent")
	_, err = silent()
	require.ErrorIs(t, err, ErrNoResult)
	typ, _ := TypeOf(err)
	assert.Equal(t, ErrorTypeResult, typ)
}

func TestHappeningHandlerSeesPayload(t *testing.T) {
	file, err := Load(strings.NewReader(controllersYAML), topics.FormatYAML)
	require.NoError(t, err)
	c := mustController(t, file.Controllers[0])

	ctx := happening.NewContext(context.Background(), happening.Happening{
		Topic:   "Alarm",
		Source:  "sensor-1",
		Payload: []byte(`{"level":"high"}`),
	})
	require.NoError(t, task(t, c, "alarm")(ctx))

	assert.Equal(t, "high", c.State()["level"])
}

func TestRunErrors(t *testing.T) {
	c := mustController(t, Definition{
		Name: "e",
		Methods: []MethodSpec{
			{Name: "spin", Kind: "task", Source: "for { }"},
			{Name: "bad", Kind: "task", Source: "a := 1; b := a + \"x\""},
		},
	}, WithTimeout(50*time.Millisecond))

	err := task(t, c, "spin")(context.Background())
	typ, _ := TypeOf(err)
	assert.Equal(t, ErrorTypeTimeout, typ)

	err = task(t, c, "bad")(context.Background())
	typ, _ = TypeOf(err)
	assert.Equal(t, ErrorTypeExecution, typ)
}

func TestLogFunction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := mustController(t, Definition{
		Name:    "l",
		Methods: []MethodSpec{{Name: "say", Kind: "task", Source: `log("hello", 42)`}},
	}, WithLogger(logger))

	require.NoError(t, task(t, c, "say")(context.Background()))
	assert.Contains(t, buf.String(), "hello 42")
	assert.Contains(t, buf.String(), "controller=l")
}

func TestSubscribe(t *testing.T) {
	file, err := Load(strings.NewReader(controllersYAML), topics.FormatYAML)
	require.NoError(t, err)
	c := mustController(t, file.Controllers[0])

	reg := subscription.NewRegistry()
	require.NoError(t, reg.AddTopicConfigs("test", topics.Config{
		Name:       "Pump",
		Permission: topics.PermissionList{"p1", "p2"},
	}))

	subs, err := c.Subscribe(reg)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, 2, subs[0].Size())
	assert.Equal(t, subscription.ShapeComplexSequential, subs[0].Shape())

	t.Run("unknown topic", func(t *testing.T) {
		other := mustController(t, Definition{
			Name:          "o",
			Methods:       []MethodSpec{{Name: "m", Kind: "task", Source: "x := 1"}},
			Subscriptions: []SubscriptionSpec{{Topic: "Nope", Methods: []string{"m"}}},
		})
		_, err := other.Subscribe(reg)
		assert.ErrorIs(t, err, subscription.ErrReason(subscription.ReasonUnknownTopic))
	})
}
