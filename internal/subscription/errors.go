package subscription

import (
	"errors"
	"fmt"
)

// Reason is the cause of a rejected subscription
type Reason string

const (
	ReasonNullObject               Reason = "null_object"
	ReasonNullOrEmptyMethodName    Reason = "null_or_empty_method_name"
	ReasonNotAnnotated             Reason = "not_annotated"
	ReasonUnknownTopic             Reason = "unknown_topic"
	ReasonAlreadySubscribed        Reason = "already_subscribed"
	ReasonPermissionRequired       Reason = "permission_required"
	ReasonPermissionMustNotBeBlank Reason = "permission_must_not_be_blank"
	ReasonMissingGuardProvider     Reason = "missing_guard_provider"
	ReasonUncomparableObject       Reason = "uncomparable_object"
	ReasonNotEnoughPermissions     Reason = "not_enough_permissions"
	ReasonEmptySequence            Reason = "empty_sequence"
	ReasonKindMismatch             Reason = "kind_mismatch"
)

// NotSubscribableError is returned for every rejected registration
type NotSubscribableError struct {
	Reason  Reason `json:"reason"`
	Topic   string `json:"topic,omitempty"`
	Method  string `json:"method,omitempty"`
	Guard   string `json:"guard,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

// Error implements the error interface
func (e *NotSubscribableError) Error() string {
	msg := fmt.Sprintf("cannot subscribe %q to topic %q: %s", e.Method, e.Topic, e.Message)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *NotSubscribableError) Unwrap() error {
	return e.Cause
}

// Is matches another NotSubscribableError with the same reason
func (e *NotSubscribableError) Is(target error) bool {
	t, ok := target.(*NotSubscribableError)
	if !ok {
		return false
	}
	return t.Reason == e.Reason && (t.Guard == "" || t.Guard == e.Guard)
}

// ErrReason returns a target for errors.Is matching the given reason
func ErrReason(r Reason) error {
	return &NotSubscribableError{Reason: r}
}

// ErrMissingGuardProvider returns a target for errors.Is matching a missing provider for guard
func ErrMissingGuardProvider(guard string) error {
	return &NotSubscribableError{Reason: ReasonMissingGuardProvider, Guard: guard}
}

// ReasonOf extracts the rejection reason from err, or "" when err is not a
// NotSubscribableError
func ReasonOf(err error) Reason {
	var nse *NotSubscribableError
	if errors.As(err, &nse) {
		return nse.Reason
	}
	return ""
}

func reject(reason Reason, topic, method, msg string) *NotSubscribableError {
	return &NotSubscribableError{
		Reason:  reason,
		Topic:   topic,
		Method:  method,
		Message: msg,
	}
}
