// Package errs defines the error taxonomy shared across every tradegate
// component: validation, state, policy, resource, concurrency and internal
// failures each propagate differently (see spec.md §7).
package errs

import "fmt"

// Kind classifies an Error for propagation and HTTP-status mapping.
type Kind string

const (
	Validation  Kind = "VALIDATION"
	State       Kind = "STATE"
	Policy      Kind = "POLICY"
	Resource    Kind = "RESOURCE"
	Concurrency Kind = "CONCURRENCY"
	Internal    Kind = "INTERNAL"
)

// Error is the tagged error type returned by every core operation.
// Code is a stable, machine-readable identifier (e.g. "KILL_SWITCH_ACTIVE");
// callers should switch on Code, not on Message text.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Rules     []string // violated risk-rule ids, when Kind == Policy
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validationf(code, format string, a ...any) *Error {
	return New(Validation, code, fmt.Sprintf(format, a...))
}

func Statef(code, format string, a ...any) *Error {
	return New(State, code, fmt.Sprintf(format, a...))
}

func Policyf(code string, rules []string, format string, a ...any) *Error {
	e := New(Policy, code, fmt.Sprintf(format, a...))
	e.Rules = rules
	return e
}

func Resourcef(retryable bool, code, format string, a ...any) *Error {
	e := New(Resource, code, fmt.Sprintf(format, a...))
	e.Retryable = retryable
	return e
}

func Concurrencyf(code, format string, a ...any) *Error {
	return New(Concurrency, code, fmt.Sprintf(format, a...))
}

func Internalf(code string, err error, format string, a ...any) *Error {
	return Wrap(Internal, code, fmt.Sprintf(format, a...), err)
}

// As reports whether err is an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// KindOf returns the Kind of err, or Internal if err is not a tagged Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}
