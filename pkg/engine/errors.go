package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies lifecycle errors for propagation decisions.
type ErrorClass string

const (
	// ErrorClassNotFound indicates the resource id is unknown to the repository.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassProviderFailure indicates the activation service failed a call that was attempted.
	ErrorClassProviderFailure ErrorClass = "provider_failure"

	// ErrorClassIgnorable indicates a provider failure known to be a benign duplicate.
	ErrorClassIgnorable ErrorClass = "ignorable_provider_failure"

	// ErrorClassInvalidTransition indicates a request incompatible with the current state.
	// The state is left unchanged.
	ErrorClassInvalidTransition ErrorClass = "invalid_transition"

	// ErrorClassConfiguration indicates the engine is not correctly wired.
	// It is the only class allowed to fail hard, and only at construction time.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassInternal indicates a failure of the engine's own plumbing (store, policy).
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError is a classified activation error. Resource and Operation
// locate the failure; Code distinguishes errors of the same class.
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Err       error                  `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches errors of the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewNotFoundError creates a new not-found error for a resource id.
func NewNotFoundError(kind ResourceKind, id string) *EngineError {
	return &EngineError{
		Class:    ErrorClassNotFound,
		Message:  fmt.Sprintf("%s not found", kind.DisplayName()),
		Code:     ErrCodeNotFound,
		Resource: id,
	}
}

// NewProviderError creates a new provider failure.
func NewProviderError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassProviderFailure,
		Message: message,
		Code:    ErrCodeProviderFailed,
		Err:     err,
	}
}

// NewIgnorableError marks a provider failure as benign.
func NewIgnorableError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassIgnorable,
		Message: message,
		Code:    ErrCodeProviderFailed,
		Err:     err,
	}
}

// NewInvalidTransitionError creates a new invalid transition error.
func NewInvalidTransitionError(from EnvironmentState, operation string) *EngineError {
	return &EngineError{
		Class:     ErrorClassInvalidTransition,
		Message:   fmt.Sprintf("cannot %s an environment in state %s", operation, from),
		Code:      ErrCodeInvalidState,
		Operation: operation,
		Details:   map[string]interface{}{"state": string(from)},
	}
}

// NewPolicyDeniedError reports a request refused by policy admission.
// It is an invalid transition: nothing is changed.
func NewPolicyDeniedError(operation string, reasons []string) *EngineError {
	return &EngineError{
		Class:     ErrorClassInvalidTransition,
		Message:   fmt.Sprintf("%s denied by policy: %s", operation, strings.Join(reasons, "; ")),
		Code:      ErrCodePolicyDenied,
		Operation: operation,
		Details:   map[string]interface{}{"reasons": reasons},
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Code:    ErrCodeMisconfigured,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassNotFound
}

// IsProviderFailure returns true if the error is a non-ignorable provider failure.
func IsProviderFailure(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassProviderFailure
}

// IsIgnorable returns true if the error is a benign provider failure.
func IsIgnorable(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassIgnorable
}

// IsInvalidTransition returns true if the error is an invalid state transition.
func IsInvalidTransition(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInvalidTransition
}

// IsConfiguration returns true if the error is a configuration error.
func IsConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfiguration
}

// IsPolicyDenied returns true if the error is a policy admission denial.
func IsPolicyDenied(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == ErrCodePolicyDenied
}

// Common error codes.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeAlreadyExists  = "ALREADY_EXISTS"
	ErrCodeInvalidState   = "INVALID_STATE"
	ErrCodePolicyDenied   = "POLICY_DENIED"
	ErrCodeMisconfigured  = "MISCONFIGURED"
	ErrCodeUnknownVersion = "UNKNOWN_VERSION"
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeProviderFailed = "PROVIDER_FAILED"
)
