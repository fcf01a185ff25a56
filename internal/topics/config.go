package topics

import (
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config is one topic record as it appears in a topics file
type Config struct {
	Name             string         `json:"name" yaml:"name" validate:"required"`
	Permission       PermissionList `json:"permission,omitempty" yaml:"permission,omitempty"`
	SetGuardCallback [][]string     `json:"set_guard_callback,omitempty" yaml:"set_guard_callback,omitempty" validate:"omitempty,dive,dive,required"`
	GuardCallback    [][]string     `json:"guard_callback,omitempty" yaml:"guard_callback,omitempty" validate:"omitempty,dive,dive,required"`
	FireCallback     []string       `json:"fire_callback,omitempty" yaml:"fire_callback,omitempty"`
}

// GuardSets returns the per-step guard sets, whichever key declared them.
// Declaring both keys with different contents is an error.
func (c Config) GuardSets() ([][]string, error) {
	switch {
	case len(c.SetGuardCallback) == 0:
		return c.GuardCallback, nil
	case len(c.GuardCallback) == 0:
		return c.SetGuardCallback, nil
	case slices.EqualFunc(c.SetGuardCallback, c.GuardCallback, slices.Equal[[]string]):
		return c.SetGuardCallback, nil
	default:
		return nil, fmt.Errorf("topic %q declares both set_guard_callback and guard_callback with different values", c.Name)
	}
}

// PermissionList is the permission declaration of a topic.
//
// It accepts a single string, a list of strings, null or nothing at all.
// Null, absent and an empty list all mean no permission was declared; a
// single string becomes a one element list. Null list entries decode to the
// empty string so they are reported as blank permissions.
type PermissionList []string

// Declared reports whether at least one permission entry exists
func (p PermissionList) Declared() bool {
	return len(p) > 0
}

// UnmarshalJSON implements json.Unmarshaler
func (p *PermissionList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*p = nil
	case string:
		*p = PermissionList{v}
	case []any:
		list := make(PermissionList, 0, len(v))
		for i, item := range v {
			switch s := item.(type) {
			case nil:
				list = append(list, "")
			case string:
				list = append(list, s)
			default:
				return fmt.Errorf("permission entry %d must be a string, got %T", i, item)
			}
		}
		*p = list
	default:
		return fmt.Errorf("permission must be a string or a list of strings, got %T", raw)
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *PermissionList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*p = nil
			return nil
		}
		*p = PermissionList{node.Value}
	case yaml.SequenceNode:
		list := make(PermissionList, 0, len(node.Content))
		for i, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: permission entry %d must be a string", item.Line, i)
			}
			if item.Tag == "!!null" {
				list = append(list, "")
				continue
			}
			list = append(list, item.Value)
		}
		*p = list
	default:
		return fmt.Errorf("line %d: permission must be a string or a list of strings", node.Line)
	}
	return nil
}
