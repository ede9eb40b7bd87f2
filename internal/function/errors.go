package function

import (
	"errors"
	"fmt"
)

// Kind classifies a failed invocation.
type Kind string

const (
	KindUnknownFunction Kind = "unknown_function"
	KindSerialization   Kind = "serialization"
	KindBinding         Kind = "binding"
	KindExecution       Kind = "execution"
)

var ErrUnknownFunction = errors.New("unknown function")

// InvocationError reports a failure attributable to one named function call.
type InvocationError struct {
	Function string
	Kind     Kind
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("function %s: %s error: %v", e.Function, e.Kind, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

func newInvocationError(name string, kind Kind, err error) *InvocationError {
	return &InvocationError{Function: name, Kind: kind, Err: err}
}
