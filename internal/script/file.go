package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/nfrund/turnstile/internal/topics"
)

// File is the content of a controllers file
type File struct {
	Controllers []Definition `json:"controllers" yaml:"controllers" validate:"required,min=1,dive"`
}

// Definition declares one script-backed controller
type Definition struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	// TimeoutMS bounds a single script run. Zero uses DefaultTimeout.
	TimeoutMS     int                `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty" validate:"gte=0"`
	State         map[string]any     `json:"state,omitempty" yaml:"state,omitempty"`
	Methods       []MethodSpec       `json:"methods" yaml:"methods" validate:"omitempty,dive"`
	Guards        []GuardSpec        `json:"guards,omitempty" yaml:"guards,omitempty" validate:"omitempty,dive"`
	Subscriptions []SubscriptionSpec `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty" validate:"omitempty,dive"`
}

// MethodSpec declares a task or happening handler
type MethodSpec struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Kind   string `json:"kind" yaml:"kind" validate:"required,oneof=task happening_handler"`
	Source string `json:"source" yaml:"source" validate:"required"`
}

// GuardSpec declares a guard provider. The source must set result to a bool.
type GuardSpec struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Source string `json:"source" yaml:"source" validate:"required"`
}

// SubscriptionSpec binds methods of the controller to a topic. More than
// one method makes a sequence.
type SubscriptionSpec struct {
	Topic   string   `json:"topic" yaml:"topic" validate:"required"`
	Methods []string `json:"methods" yaml:"methods" validate:"required,min=1,dive,required"`
}

var validate = validator.New()

// LoadFile reads a controllers file through fsys. The format follows the
// file extension.
func LoadFile(fsys afero.Fs, path string) (*File, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewScriptError(ErrorTypeFormat, "", "", fmt.Sprintf("controllers file %s not found", path), err)
		}
		return nil, NewScriptError(ErrorTypeFormat, "", "", fmt.Sprintf("failed to open controllers file %s", path), err)
	}
	defer f.Close()

	return Load(f, topics.FormatFromPath(path))
}

// Load decodes and validates a controllers file
func Load(r io.Reader, format topics.Format) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewScriptError(ErrorTypeFormat, "", "", "failed to read controllers", err)
	}

	var file File
	switch format {
	case topics.FormatYAML:
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, NewScriptError(ErrorTypeFormat, "", "", "failed to decode controllers", err)
	}

	if err := validate.Struct(file); err != nil {
		return nil, NewScriptError(ErrorTypeFormat, "", "", "invalid controllers", err)
	}

	seen := make(map[string]struct{}, len(file.Controllers))
	for _, def := range file.Controllers {
		if _, dup := seen[def.Name]; dup {
			return nil, NewScriptError(ErrorTypeFormat, def.Name, "", "controller declared twice", nil)
		}
		seen[def.Name] = struct{}{}
	}
	return &file, nil
}
