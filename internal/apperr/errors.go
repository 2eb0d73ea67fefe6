// Package apperr holds the error kinds shared by the portal's services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

var (
	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the caller may not touch the addressed record.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict means a uniqueness rule was violated, e.g. an email already registered.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials is returned by sign-in for any email/password mismatch.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError is a client-side input problem. It never reaches the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrors collects every problem of a form step at once.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Err returns nil for an empty list so callers can return it directly.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Fields maps field name to message, for API responses.
func (v ValidationErrors) Fields() map[string]string {
	m := make(map[string]string, len(v))
	for _, e := range v {
		m[e.Field] = e.Message
	}
	return m
}

// IsValidation reports whether err is a ValidationError or a list of them.
func IsValidation(err error) bool {
	var one *ValidationError
	var many ValidationErrors
	return errors.As(err, &one) || errors.As(err, &many)
}

// BackendError wraps a failed store, auth or realtime call.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Backend wraps err unless it is nil or already classified.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrConflict) || IsValidation(err) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

// PartialTransitionError reports that a project was created from a request
// but the request could not be removed afterwards. Both records now exist.
type PartialTransitionError struct {
	ProjectID utils.SixID
	Err       error
}

func (e *PartialTransitionError) Error() string {
	return fmt.Sprintf("project %s created but source request not removed: %v", e.ProjectID, e.Err)
}

func (e *PartialTransitionError) Unwrap() error { return e.Err }
