package topics_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/turnstile/internal/topics"
)

const permissionShapes = `[
	{"name": "topic1", "permission": [""]},
	{"name": "topic2", "permission": []},
	{"name": "topic3", "permission": "p3", "set_guard_callback": [["g1", "g2"]]},
	{"name": "topic4", "permission": ["p4a", "p4b"], "guard_callback": [["g1", "g3"], []], "fire_callback": ["", "c1"]},
	{"name": "topic5"},
	{"name": "topic6", "permission": null}
]`

func newLoader(t *testing.T, files map[string]string) *topics.Loader {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	return topics.MustNewLoader(fs)
}

func TestLoaderPermissionShapes(t *testing.T) {
	loader := newLoader(t, map[string]string{"/topics.json": permissionShapes})

	cfgs, err := loader.LoadFile("/topics.json")
	require.NoError(t, err)
	require.Len(t, cfgs, 6)

	byName := make(map[string]topics.Config)
	for _, cfg := range cfgs {
		byName[cfg.Name] = cfg
	}

	t.Run("blank entry is declared", func(t *testing.T) {
		assert.Equal(t, topics.PermissionList{""}, byName["topic1"].Permission)
		assert.True(t, byName["topic1"].Permission.Declared())
	})

	t.Run("empty list, absent and null are undeclared", func(t *testing.T) {
		for _, name := range []string{"topic2", "topic5", "topic6"} {
			assert.False(t, byName[name].Permission.Declared(), name)
		}
	})

	t.Run("single string becomes a list", func(t *testing.T) {
		assert.Equal(t, topics.PermissionList{"p3"}, byName["topic3"].Permission)
	})

	t.Run("guard_callback is an alias", func(t *testing.T) {
		sets, err := byName["topic4"].GuardSets()
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"g1", "g3"}, {}}, sets)
		assert.Equal(t, []string{"", "c1"}, byName["topic4"].FireCallback)
	})
}

func TestLoaderYAML(t *testing.T) {
	const doc = `
- name: topic1
  permission: ""
- name: topic2
  permission: [p1, p2]
  set_guard_callback:
    - [g1]
    - [g2]
  fire_callback: [c1]
- name: topic3
  permission:
`
	loader := newLoader(t, map[string]string{"/topics.yaml": doc})

	cfgs, err := loader.LoadFile("/topics.yaml")
	require.NoError(t, err)
	require.Len(t, cfgs, 3)

	assert.Equal(t, topics.PermissionList{""}, cfgs[0].Permission)
	assert.Equal(t, topics.PermissionList{"p1", "p2"}, cfgs[1].Permission)
	assert.Equal(t, [][]string{{"g1"}, {"g2"}}, cfgs[1].SetGuardCallback)
	assert.Equal(t, []string{"c1"}, cfgs[1].FireCallback)
	assert.False(t, cfgs[2].Permission.Declared())
}

func TestLoaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		format  topics.Format
	}{
		{"not json", `{{`, topics.FormatJSON},
		{"not a list", `{"name": "t"}`, topics.FormatJSON},
		{"missing name", `[{"permission": "p"}]`, topics.FormatJSON},
		{"empty name", `[{"name": ""}]`, topics.FormatJSON},
		{"numeric permission", `[{"name": "t", "permission": 3}]`, topics.FormatJSON},
		{"unknown field", `[{"name": "t", "permissions": "p"}]`, topics.FormatJSON},
		{"duplicate name", `[{"name": "t"}, {"name": "t"}]`, topics.FormatJSON},
		{"conflicting guard keys", `[{"name": "t", "set_guard_callback": [["a"]], "guard_callback": [["b"]]}]`, topics.FormatJSON},
		{"yaml missing name", "- permission: p\n", topics.FormatYAML},
		{"yaml nested permission", "- name: t\n  permission: {a: b}\n", topics.FormatYAML},
		{"unsupported format", `[]`, topics.Format("toml")},
	}

	loader := topics.MustNewLoader(afero.NewMemMapFs())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Load(strings.NewReader(tt.content), tt.format, "inline")
			require.Error(t, err)
			assert.True(t, errors.Is(err, topics.ErrConfigFormat), "got %v", err)
			assert.False(t, errors.Is(err, topics.ErrConfigMissing))

			var cfgErr *topics.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, topics.ErrorConfigFormat, cfgErr.Type)
			assert.Equal(t, "inline", cfgErr.Source)
		})
	}
}

func TestLoaderMissingSource(t *testing.T) {
	loader := newLoader(t, nil)

	_, err := loader.LoadFile("/nope.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, topics.ErrConfigMissing))
	assert.Contains(t, err.Error(), "/nope.json")
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, topics.FormatYAML, topics.FormatFromPath("a/b.yaml"))
	assert.Equal(t, topics.FormatYAML, topics.FormatFromPath("B.YML"))
	assert.Equal(t, topics.FormatJSON, topics.FormatFromPath("topics.json"))
	assert.Equal(t, topics.FormatJSON, topics.FormatFromPath("topics"))
}
