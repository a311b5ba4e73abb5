package mutation

import (
	"errors"
	"fmt"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

var (
	// ErrEntityBusy is wrapped in a ValidationError when a target already has a pending mutation
	ErrEntityBusy = errors.New("entity has a pending mutation")

	// ErrRejected is returned by backends that explicitly refuse an operation
	ErrRejected = errors.New("operation rejected")
)

// ValidationError is a precondition failure detected before any patch
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a referenced entity missing from the store
type NotFoundError struct {
	Ref    models.EntityRef
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s not found", e.Ref.Kind, e.Ref.ID)
}

// BackingOperationFailure wraps the error that sent a mutation down the rollback path
type BackingOperationFailure struct {
	MutationID string
	Kind       Kind
	Err        error
}

func (e *BackingOperationFailure) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Kind, e.MutationID, e.Err)
}

func (e *BackingOperationFailure) Unwrap() error { return e.Err }
