package domain

import (
	"fmt"
	"time"
)

// Role is the permission level attached to a user.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

// ParseRole maps a role string onto the closed role set. Only the exact
// values "viewer" and "admin" are accepted; case and whitespace variants are
// rejected like any other unknown role.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleViewer:
		return RoleViewer, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleAdmin
}

// Book is a catalogue entry. Title and author are never empty once persisted.
type Book struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// User is an account allowed to call the API. SessionsRevokedAt is the
// cutoff before which every token issued to the user is rejected.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	SessionsRevokedAt time.Time `json:"-"`
}
