package topics

import "errors"

var (
	// ErrConfigFormat matches every error caused by a malformed topic source
	ErrConfigFormat = errors.New("malformed topic configuration")

	// ErrConfigMissing matches every error caused by a topic source that does not exist
	ErrConfigMissing = errors.New("topic configuration not found")
)

// ErrorType defines the type of topic configuration error
type ErrorType string

const (
	ErrorConfigFormat  ErrorType = "config_format"
	ErrorConfigMissing ErrorType = "config_missing"
)

// ConfigError represents a failure to load or merge topic configuration
type ConfigError struct {
	Type    ErrorType `json:"type"`
	Source  string    `json:"source,omitempty"`
	Topic   string    `json:"topic,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"cause,omitempty"`
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Topic != "" {
		msg = e.Topic + ": " + msg
	}
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match the ErrConfigFormat and ErrConfigMissing sentinels
func (e *ConfigError) Is(target error) bool {
	switch target {
	case ErrConfigFormat:
		return e.Type == ErrorConfigFormat
	case ErrConfigMissing:
		return e.Type == ErrorConfigMissing
	}
	return false
}
