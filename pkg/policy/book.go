// Package policy decides which roles may perform which book operations.
// Every predicate is pure and denies any role outside the known set.
package policy

import (
	"errors"

	"bookshelf/pkg/domain"
)

// ErrForbidden is returned by Authorize when the policy denies an action.
var ErrForbidden = errors.New("forbidden")

// Action names a book operation subject to authorization.
type Action string

const (
	ActionViewAny Action = "viewAny"
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
)

// CanViewAny reports whether role may list books.
func CanViewAny(role domain.Role) bool {
	return canRead(role)
}

// CanView reports whether role may read a book. Visibility does not depend on the record.
func CanView(role domain.Role, _ domain.Book) bool {
	return canRead(role)
}

// CanCreate reports whether role may create books.
func CanCreate(role domain.Role) bool {
	return role == domain.RoleAdmin
}

// CanUpdate reports whether role may update a book.
func CanUpdate(role domain.Role, _ domain.Book) bool {
	return role == domain.RoleAdmin
}

// CanDelete reports whether role may delete a book.
func CanDelete(role domain.Role, _ domain.Book) bool {
	return role == domain.RoleAdmin
}

// Authorize checks action against the matching predicate and returns
// ErrForbidden on deny. Unknown actions are denied.
func Authorize(role domain.Role, action Action, book domain.Book) error {
	var allowed bool
	switch action {
	case ActionViewAny:
		allowed = CanViewAny(role)
	case ActionView:
		allowed = CanView(role, book)
	case ActionCreate:
		allowed = CanCreate(role)
	case ActionUpdate:
		allowed = CanUpdate(role, book)
	case ActionDelete:
		allowed = CanDelete(role, book)
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

func canRead(role domain.Role) bool {
	switch role {
	case domain.RoleViewer, domain.RoleAdmin:
		return true
	default:
		return false
	}
}
