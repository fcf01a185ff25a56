package topics

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

//go:embed topics.schema.json
var schemaJSON []byte

// Format identifies the encoding of a topic source
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension. Anything that is
// not .yaml or .yml is read as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Loader reads topic records from files or byte sources
type Loader struct {
	fs       afero.Fs
	validate *validator.Validate
	schema   *jsonschema.Schema
}

// NewLoader creates a loader reading from the given filesystem.
// A nil filesystem means the operating system's.
func NewLoader(fsys afero.Fs) (*Loader, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse topics schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("topics.schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add topics schema: %w", err)
	}
	schema, err := c.Compile("topics.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile topics schema: %w", err)
	}

	return &Loader{
		fs:       fsys,
		validate: validator.New(),
		schema:   schema,
	}, nil
}

// MustNewLoader is like NewLoader but panics on error
func MustNewLoader(fsys afero.Fs) *Loader {
	l, err := NewLoader(fsys)
	if err != nil {
		panic(err)
	}
	return l
}

// Fs returns the filesystem the loader reads from
func (l *Loader) Fs() afero.Fs {
	return l.fs
}

// LoadFile reads and validates the topic records in path
func (l *Loader) LoadFile(path string) ([]Config, error) {
	info, err := l.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{
				Type:    ErrorConfigMissing,
				Source:  path,
				Message: "topic source does not exist",
				Cause:   err,
			}
		}
		return nil, &ConfigError{
			Type:    ErrorConfigFormat,
			Source:  path,
			Message: "cannot stat topic source",
			Cause:   err,
		}
	}
	if info.IsDir() {
		return nil, &ConfigError{
			Type:    ErrorConfigFormat,
			Source:  path,
			Message: "topic source is a directory",
		}
	}

	f, err := l.fs.Open(path)
	if err != nil {
		return nil, &ConfigError{
			Type:    ErrorConfigMissing,
			Source:  path,
			Message: "cannot open topic source",
			Cause:   err,
		}
	}
	defer f.Close()

	return l.Load(f, FormatFromPath(path), path)
}

// Load reads and validates topic records from r. The source is only used
// in error messages.
func (l *Loader) Load(r io.Reader, format Format, source string) ([]Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, formatError(source, "", "cannot read topic source", err)
	}

	var cfgs []Config
	switch format {
	case FormatYAML:
		cfgs, err = l.decodeYAML(data)
	case FormatJSON, "":
		cfgs, err = l.decodeJSON(data)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, formatError(source, "", "invalid topic document", err)
	}

	seen := make(map[string]struct{}, len(cfgs))
	for i, cfg := range cfgs {
		if err := l.validate.Struct(cfg); err != nil {
			return nil, formatError(source, cfg.Name, fmt.Sprintf("invalid topic record %d", i), err)
		}
		if _, err := cfg.GuardSets(); err != nil {
			return nil, formatError(source, cfg.Name, "conflicting guard declaration", err)
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, formatError(source, cfg.Name, "topic declared more than once", nil)
		}
		seen[cfg.Name] = struct{}{}
	}

	return cfgs, nil
}

func (l *Loader) decodeJSON(data []byte) ([]Config, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := l.schema.Validate(doc); err != nil {
		return nil, err
	}

	var cfgs []Config
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}

func (l *Loader) decodeYAML(data []byte) ([]Config, error) {
	var cfgs []Config
	if err := yaml.Unmarshal(data, &cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}

func formatError(source, topic, msg string, cause error) *ConfigError {
	return &ConfigError{
		Type:    ErrorConfigFormat,
		Source:  source,
		Topic:   topic,
		Message: msg,
		Cause:   cause,
	}
}
