package app

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated covers every reason a bearer token cannot be resolved to a user.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("book not found")

	// ErrInvalidCredentials is shown to clients as-is; it must not reveal whether the email exists.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrUserNotFound       = errors.New("user not found")
)

// Field failure reasons.
const (
	ReasonRequired     = "required"
	ReasonNotString    = "must be a string"
	ReasonInvalidEmail = "must be a valid email address"
	ReasonInvalidRole  = "must be viewer or admin"
)

// FieldError names one failing input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every failing field of one request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
