package app

import (
	"net/mail"
	"strings"

	"bookshelf/pkg/auth"
	"bookshelf/pkg/domain"
)

// BookInput is a validated create/update payload.
type BookInput struct {
	Title  string
	Author string
}

// ParseBookInput checks decoded JSON values for title and author. Both must be
// strings that are non-empty once trimmed; a missing key or null is "required".
func ParseBookInput(title, author any) (BookInput, error) {
	verr := &ValidationError{}
	in := BookInput{
		Title:  requiredString(verr, "title", title),
		Author: requiredString(verr, "author", author),
	}
	if err := verr.orNil(); err != nil {
		return BookInput{}, err
	}
	return in, nil
}

func requiredString(verr *ValidationError, field string, raw any) string {
	if raw == nil {
		verr.add(field, ReasonRequired)
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		verr.add(field, ReasonNotString)
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		verr.add(field, ReasonRequired)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail accepts a bare addr-spec; display names are rejected.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func validateEmail(verr *ValidationError, email string) {
	switch {
	case email == "":
		verr.add("email", ReasonRequired)
	case !validEmail(email):
		verr.add("email", ReasonInvalidEmail)
	}
}

func validateLogin(email, password string) error {
	verr := &ValidationError{}
	validateEmail(verr, email)
	if password == "" {
		verr.add("password", ReasonRequired)
	}
	return verr.orNil()
}

func validateNewUser(email, password, role string) (domain.Role, error) {
	verr := &ValidationError{}
	validateEmail(verr, email)
	if password == "" {
		verr.add("password", ReasonRequired)
	} else if err := auth.ValidatePassword(password); err != nil {
		verr.add("password", err.Error())
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		verr.add("role", ReasonInvalidRole)
	}
	return parsed, verr.orNil()
}
