// Package errors provides the error types used across the metasync system.
// The types map remote-platform failures onto a small taxonomy so that the
// sync orchestrator can make skip/continue decisions centrally instead of
// at scattered call sites.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is and As are aliases for the standard library helpers so callers need
// only one errors import.
var (
	Is = errors.Is
	As = errors.As
)

// Common sentinel errors for the metasync system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous indicates that a lookup matched more than one record
	ErrAmbiguous = errors.New("ambiguous match")

	// ErrUnauthorized indicates missing write access to a dataset
	ErrUnauthorized = errors.New("unauthorized")

	// ErrLocked indicates a dataset publication state that forbids writes
	ErrLocked = errors.New("dataset locked")

	// ErrRemote indicates a transient remote-platform failure
	ErrRemote = errors.New("remote call failed")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError represents an error when a resource is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// RemoteError represents a transient failure of a read or write call to the
// remote curation platform. The ledger hash for the affected entity type is
// left stale so the next run retries it.
type RemoteError struct {
	Operation  string // "list", "create", "delete", "search", "link", "relate"
	Resource   string // model or dataset the call targeted
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s of %s failed (status %d): %v", e.Operation, e.Resource, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s of %s failed: %v", e.Operation, e.Resource, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// NewRemoteError creates a new RemoteError
func NewRemoteError(operation, resource string, statusCode int, err error) *RemoteError {
	return &RemoteError{
		Operation:  operation,
		Resource:   resource,
		StatusCode: statusCode,
		Err:        err,
	}
}

// AuthorizationError indicates the current credentials lack write access to a
// dataset. The whole dataset is skipped with no writes and no ledger change.
type AuthorizationError struct {
	DatasetID string
	Role      string
}

// Error implements the error interface
func (e *AuthorizationError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("no write access to dataset %s (role %s)", e.DatasetID, e.Role)
	}
	return fmt.Sprintf("no write access to dataset %s", e.DatasetID)
}

// Is implements errors.Is support
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// LockedError indicates a dataset is in a publication state that forbids
// writes. The whole dataset is skipped with no writes and no ledger change.
type LockedError struct {
	DatasetID string
	Status    string
}

// Error implements the error interface
func (e *LockedError) Error() string {
	return fmt.Sprintf("dataset %s is locked for publication (status %s)", e.DatasetID, e.Status)
}

// Is implements errors.Is support
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// AmbiguousMatchError indicates a structured search matched more than one
// remote record. Callers treat it like not-found for resolution purposes,
// but it is logged distinctly for operator review.
type AmbiguousMatchError struct {
	EntityType string
	LocalID    string
	Matches    int
}

// Error implements the error interface
func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("search for %s %q matched %d records, expected one", e.EntityType, e.LocalID, e.Matches)
}

// Is implements errors.Is support
func (e *AmbiguousMatchError) Is(target error) bool {
	return target == ErrAmbiguous
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IOError represents an error during local I/O operations.
type IOError struct {
	Operation string // "read", "write", "create", "delete"
	Path      string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	return fmt.Sprintf("IO error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Operation: operation, Path: path, Err: err}
}

// WrapRemote wraps an error as a RemoteError
func WrapRemote(operation, resource string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Operation: operation, Resource: resource, Err: err}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAmbiguous checks if an error is an ambiguous match error
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrAmbiguous)
}

// IsRemote checks if an error is a transient remote failure
func IsRemote(err error) bool {
	return errors.Is(err, ErrRemote)
}

// IsUnauthorized checks if an error indicates missing write access
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsLocked checks if an error indicates a publication lock
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}
