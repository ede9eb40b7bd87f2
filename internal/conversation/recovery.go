package conversation

import (
	"errors"

	"funchatgo/internal/function"
	"funchatgo/internal/memory"
	"funchatgo/internal/models"
)

// Recovery turns a dispatch failure into conversational context. Returning
// nil means the store was updated and a follow-up call should be made. A
// non-nil error ends the turn.
type Recovery interface {
	Recover(store *memory.Store, err error) error
}

// RecoveryFunc adapts a function to Recovery.
type RecoveryFunc func(store *memory.Store, err error) error

func (f RecoveryFunc) Recover(store *memory.Store, err error) error {
	return f(store, err)
}

// InjectError appends the error text as a user message when the error comes
// from a function dispatch. Other errors are returned unchanged.
type InjectError struct{}

func (InjectError) Recover(store *memory.Store, err error) error {
	var invErr *function.InvocationError
	if !errors.As(err, &invErr) {
		return err
	}
	store.Append(models.Message{Role: models.RoleUser, Content: err.Error()})
	return nil
}
