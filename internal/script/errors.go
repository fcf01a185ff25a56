package script

import (
	"errors"
	"fmt"
)

// ErrorType categorizes script errors
type ErrorType string

const (
	ErrorTypeFormat      ErrorType = "format"
	ErrorTypeCompilation ErrorType = "compilation"
	ErrorTypeExecution   ErrorType = "execution"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeResult      ErrorType = "result"
)

// ErrNoResult is returned when a guard script does not leave a boolean in result
var ErrNoResult = errors.New("script did not set a boolean result")

// ScriptError represents a failure of a controller file or one of its scripts
type ScriptError struct {
	Type       ErrorType
	Controller string
	Script     string
	Message    string
	Cause      error
}

func (e *ScriptError) Error() string {
	where := e.Controller
	if e.Script != "" {
		where += "." + e.Script
	}
	msg := e.Message
	if where != "" {
		msg = fmt.Sprintf("%s (%s)", e.Message, where)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// NewScriptError creates a new ScriptError with the given parameters
func NewScriptError(errorType ErrorType, controller, script, message string, cause error) *ScriptError {
	return &ScriptError{
		Type:       errorType,
		Controller: controller,
		Script:     script,
		Message:    message,
		Cause:      cause,
	}
}

// TypeOf returns the ErrorType of the first ScriptError in err's chain
func TypeOf(err error) (ErrorType, bool) {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Type, true
	}
	return "", false
}
