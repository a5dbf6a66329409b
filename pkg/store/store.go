package store

import (
	"context"
	"errors"
	"time"

	"bookshelf/pkg/domain"
)

var (
	// ErrNotFound is returned by writes that target a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a user email is already registered.
	ErrDuplicateEmail = errors.New("email already exists")
)

// Store defines persistence operations for users and books.
// Lookups report absence with a false flag rather than an error.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	// SetUserRole changes the role and, when sessionsRevokedAt is non-zero,
	// records it as the user's session cutoff in the same write.
	SetUserRole(ctx context.Context, id int64, role domain.Role, sessionsRevokedAt time.Time) error
	ListUsers(ctx context.Context) ([]domain.User, error)

	// books
	CreateBook(ctx context.Context, b domain.Book) (domain.Book, error)
	GetBook(ctx context.Context, id int64) (domain.Book, bool, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)
	UpdateBook(ctx context.Context, b domain.Book) error
	DeleteBook(ctx context.Context, id int64) error
}

// Session is a verified bearer token.
type Session struct {
	UserID   string
	IssuedAt time.Time
}

// SessionStore issues and resolves bearer tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetSession(token string) (Session, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user up to a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}
