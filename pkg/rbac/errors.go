package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by errors.Is against the typed errors below
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("concurrent modification")
	ErrDanglingReference = errors.New("dangling reference")
)

// Kinds of referenced entities
const (
	KindProfile    = "profile"
	KindCustomRole = "custom_role"
	KindSystemRole = "system_role"
	KindUser       = "user"
)

// FieldError is one violated rule
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Reason
}

// ValidationError collects every rule a profile or custom role breaks
type ValidationError struct {
	Problems []FieldError `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is matches ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Problems = append(e.Problems, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// orNil returns nil when nothing was collected
func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// NotFoundError reports a missing profile, custom role, system role or user
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Is matches ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports a lost compare-and-swap on a profile or custom role
type ConflictError struct {
	Kind     string
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently: expected version %d, found %d", e.Kind, e.ID, e.Expected, e.Actual)
}

// Is matches ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// DanglingReferenceError reports ids that do not resolve in the catalog or store
type DanglingReferenceError struct {
	Kind string
	IDs  []string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("unknown %s references: %s", e.Kind, strings.Join(e.IDs, ", "))
}

// Is matches ErrDanglingReference
func (e *DanglingReferenceError) Is(target error) bool {
	return target == ErrDanglingReference
}

// profileInUse refuses a delete while users hold the profile. n < 0 means
// the count is unknown.
func profileInUse(n int) error {
	reason := "profile is still assigned to users"
	if n >= 0 {
		reason = fmt.Sprintf("profile is still assigned to %d users", n)
	}
	return &ValidationError{Problems: []FieldError{{Field: "users_count", Reason: reason}}}
}

// IsNotFound reports whether err is a not-found error of any kind
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
