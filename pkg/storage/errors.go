package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redhat-data-and-ai/syncstore/pkg/logger"
)

// BackendError wraps any failure coming out of the underlying store so that
// driver-specific error types never leak past the storage boundary.
type BackendError struct {
	Message string
	Cause   error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage backend error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("storage backend error: %s", e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// NotFoundError reports a get/delete on an id absent from its scope.
// Expected and recoverable by callers, unlike BackendError.
type NotFoundError struct {
	ObjectID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %q not found", e.ObjectID)
}

// UnicityError reports a create colliding with an existing id. It carries
// the pre-existing record so callers can decide how to react.
type UnicityError struct {
	Field    string
	Existing Record
}

func (e *UnicityError) Error() string {
	return fmt.Sprintf("record with %s %q already exists", e.Field, e.Existing[e.Field])
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// wrapBackendError logs the original cause and converts it to a
// BackendError. Typed storage errors pass through untouched so that
// NotFound/Unicity results stay distinguishable.
func wrapBackendError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		be *BackendError
		nf *NotFoundError
		ue *UnicityError
	)
	if errors.As(err, &be) || errors.As(err, &nf) || errors.As(err, &ue) {
		return err
	}
	logger.Logger(ctx).WithError(err).WithField("operation", op).Error("storage backend failure")
	return &BackendError{Message: op, Cause: err}
}
