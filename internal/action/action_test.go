package action_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/turnstile/internal/action"
)

type controller struct {
	runs   int
	guard1 bool
}

func (c *controller) Describe(d *action.Descriptor) {
	d.Task("mockTask", func(context.Context) error {
		c.runs++
		return nil
	})
	d.HappeningHandler("mockHappeningHandler", func(context.Context) error { return nil })
	d.Task("boom", func(context.Context) error { panic("kaboom") })
	d.GuardProvider("g1", func() bool { return c.guard1 })
	d.GuardProvider("bad", func() bool { panic("no") })
}

type sloppy struct{}

func (sloppy) Describe(d *action.Descriptor) {
	d.Task("", func(context.Context) error { return nil })
	d.Task("nilTask", nil)
	d.Task("twice", func(context.Context) error { return nil })
	d.HappeningHandler("twice", func(context.Context) error { return nil })
	d.GuardProvider("", func() bool { return true })
}

func TestDescriptor(t *testing.T) {
	d := action.Describe(&controller{})
	require.NoError(t, d.Err())

	kind, fn := d.Lookup("mockTask")
	assert.Equal(t, action.KindTask, kind)
	assert.NotNil(t, fn)

	kind, _ = d.Lookup("mockHappeningHandler")
	assert.Equal(t, action.KindHappeningHandler, kind)

	kind, fn = d.Lookup("mockNotSubscribableMethod")
	assert.Equal(t, action.KindNone, kind)
	assert.Nil(t, fn)

	_, ok := d.Guard("g1")
	assert.True(t, ok)
	_, ok = d.Guard("g3")
	assert.False(t, ok)

	assert.Equal(t, []string{"boom", "mockTask"}, d.Methods(action.KindTask))
	assert.Equal(t, []string{"bad", "g1"}, d.Guards())
}

func TestDescriptorErrors(t *testing.T) {
	d := action.Describe(sloppy{})
	err := d.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task with empty name")
	assert.Contains(t, err.Error(), `task "nilTask" is nil`)
	assert.Contains(t, err.Error(), `method "twice" declared twice`)
	assert.Contains(t, err.Error(), "guard provider with empty name")
}

func TestBinding(t *testing.T) {
	c := &controller{guard1: true}
	d := action.Describe(c)

	_, task := d.Lookup("mockTask")
	g1, _ := d.Guard("g1")
	bad, _ := d.Guard("bad")
	b := action.NewBinding(c, "mockTask", action.KindTask, task, map[string]action.GuardFunc{"g1": g1, "bad": bad})

	assert.Equal(t, action.Key{Owner: c, Method: "mockTask"}, b.Key())
	assert.Same(t, c, b.Owner())

	require.NoError(t, b.Execute(context.Background()))
	assert.Equal(t, 1, c.runs)

	v, err := b.GuardValue("g1")
	require.NoError(t, err)
	assert.True(t, v)

	_, err = b.GuardValue("g2")
	assert.True(t, errors.Is(err, action.ErrGuardNotBound))

	_, err = b.GuardValue("bad")
	assert.True(t, errors.Is(err, action.ErrMethodPanicked))

	t.Run("panicking method becomes an error", func(t *testing.T) {
		_, boom := d.Lookup("boom")
		b := action.NewBinding(c, "boom", action.KindTask, boom, nil)
		err := b.Execute(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, action.ErrMethodPanicked))
		assert.Contains(t, err.Error(), "kaboom")
	})
}

func TestComparable(t *testing.T) {
	assert.True(t, action.Comparable(&controller{}))
	assert.True(t, action.Comparable(sloppy{}))
	assert.False(t, action.Comparable(nil))
	assert.False(t, action.Comparable(map[string]int{}))
}
