package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	// ErrNotFound matches NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches ConflictError.
	ErrConflict = errors.New("version conflict")
	// ErrStaleBase matches ConflictError: the declared predecessor is no longer the latest version.
	ErrStaleBase = errors.New("stale base version")
	// ErrIncomplete matches IncompleteAtomError.
	ErrIncomplete = errors.New("incomplete atom")
	// ErrInvalid matches InvalidAtomError.
	ErrInvalid = errors.New("invalid atom")
	// ErrBackendIO matches BackendIOError.
	ErrBackendIO = errors.New("backend i/o failure")
)

// IncompleteAtomError is returned when a version is built without a required field.
type IncompleteAtomError struct {
	Kind  Kind
	Field string
}

func (e IncompleteAtomError) Error() string {
	return fmt.Sprintf("%s: required field %q is not set", e.Kind, e.Field)
}

// Is implements errors.Is support for ErrIncomplete.
func (e IncompleteAtomError) Is(target error) bool { return target == ErrIncomplete }

// InvalidAtomError is returned when a field is set to a value the kind does not accept.
type InvalidAtomError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e InvalidAtomError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Kind, e.Field, e.Reason)
}

// Is implements errors.Is support for ErrInvalid.
func (e InvalidAtomError) Is(target error) bool { return target == ErrInvalid }

// ConflictError reports that a pending version declared a predecessor that is
// not the backend's latest version for its identity. Actual is zero when the
// identity does not exist yet.
type ConflictError struct {
	ID       string
	Expected uint64
	Actual   uint64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected latest version %d, found %d", e.ID, e.Expected, e.Actual)
}

// Is implements errors.Is support for ErrConflict and ErrStaleBase.
func (e ConflictError) Is(target error) bool { return target == ErrConflict || target == ErrStaleBase }

// NotFoundError reports a missing identity, version or set member.
type NotFoundError struct {
	Kind    Kind
	ID      string
	Version uint64
	Key     string
}

func (e NotFoundError) Error() string {
	label := string(e.Kind)
	if label == "" {
		label = "atom"
	}
	switch {
	case e.Key != "":
		return fmt.Sprintf("%s %s has no member %q", label, e.ID, e.Key)
	case e.Version != 0:
		return fmt.Sprintf("%s %s version %d not found", label, e.ID, e.Version)
	default:
		return fmt.Sprintf("%s %s not found", label, e.ID)
	}
}

// Is implements errors.Is support for ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// BackendIOError reports that durable storage failed during Op. The backend
// guarantees that no partial batch is visible after such a failure.
type BackendIOError struct {
	Op  string
	Err error
}

func (e BackendIOError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e BackendIOError) Unwrap() error { return e.Err }

// Is implements errors.Is support for ErrBackendIO.
func (e BackendIOError) Is(target error) bool { return target == ErrBackendIO }

// WrapBackend classifies err as a BackendIOError for op unless it already is a
// domain error the caller must see unchanged.
func WrapBackend(op string, err error) error {
	if err == nil {
		return nil
	}
	var conflict ConflictError
	var notFound NotFoundError
	var backend BackendIOError
	if errors.As(err, &conflict) || errors.As(err, &notFound) || errors.As(err, &backend) {
		return err
	}
	return BackendIOError{Op: op, Err: errors.WithStack(err)}
}

// WithRetryHint decorates a conflict with the recovery a caller is expected to perform.
func WithRetryHint(err error) error {
	if err == nil || !errors.Is(err, ErrConflict) {
		return err
	}
	return errors.WithHint(err, "re-read the latest version, reapply the change and commit again")
}

// IsConflict reports whether err is (or wraps) a version conflict.
func IsConflict(err error) bool { return err != nil && errors.Is(err, ErrConflict) }

// IsNotFound reports whether err is (or wraps) a not-found error.
func IsNotFound(err error) bool { return err != nil && errors.Is(err, ErrNotFound) }
