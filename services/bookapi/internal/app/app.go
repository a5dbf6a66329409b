package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"bookshelf/internal/util"
	"bookshelf/pkg/auth"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/policy"
	"bookshelf/pkg/store"
)

// Config holds runtime configuration for the core application.
// Store and Sessions override the ones New would build from the other fields.
type Config struct {
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	SessionTTL          time.Duration
	JWTPrivateKeyPath   string
	JWTPublicKeyPath    string
	JWTKeyID            string
	JWTVerifyPublicKeys map[string]string
	JWTIssuer           string
	JWTAudience         string
	JWTLeeway           time.Duration
	Store               store.Store
	Sessions            store.SessionStore
}

// App wires storage, sessions and the book policy together.
type App struct {
	store    store.Store
	sessions store.SessionStore
	closers  []io.Closer
}

// New constructs the application. Without RedisAddr, revocations are kept in
// process memory and do not survive restarts.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	a := &App{store: cfg.Store, sessions: cfg.Sessions}

	if a.store == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.store = gormStore
		a.closers = append(a.closers, gormStore)
	}

	if a.sessions == nil {
		if strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" {
			_ = a.Close()
			return nil, errors.New("jwtPrivateKeyPath is required")
		}
		var revoker store.TokenRevoker
		if strings.TrimSpace(cfg.RedisAddr) != "" {
			redisRevoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
			a.closers = append(a.closers, redisRevoker)
			revoker = redisRevoker
		} else {
			revoker = store.NewMemoryTokenRevoker()
		}
		sessions, err := store.NewJWTRS256SessionStoreFromPEM(
			cfg.JWTPrivateKeyPath,
			cfg.JWTPublicKeyPath,
			cfg.JWTKeyID,
			cfg.JWTVerifyPublicKeys,
			cfg.SessionTTL,
			revoker,
			store.JWTOptions{
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				Leeway:   cfg.JWTLeeway,
			},
		)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("init rs256 jwt session store: %w", err)
		}
		a.sessions = sessions
	}
	return a, nil
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Login checks credentials and issues a bearer token. A user whose stored role
// is outside the known set cannot log in.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	if err := validateLogin(email, password); err != nil {
		return domain.User{}, "", err
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	role, err := domain.ParseRole(string(user.Role))
	if err != nil {
		util.LoggerFromContext(ctx).Warn("login refused for unknown stored role", "user_id", user.ID, "role", string(user.Role))
		return domain.User{}, "", ErrInvalidCredentials
	}
	user.Role = role
	token, err := a.sessions.NewSession(formatID(user.ID))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves a bearer token to its user with a parsed role.
// Invalid, expired or revoked tokens, tokens issued at or before the user's
// stored session cutoff, deleted users and unknown roles all yield
// ErrUnauthenticated; store failures are returned wrapped.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	sess, ok, err := a.sessions.GetSession(token)
	if err != nil || !ok {
		if err != nil {
			util.LoggerFromContext(ctx).Debug("token rejected", "err", err)
		}
		return domain.User{}, ErrUnauthenticated
	}
	id, err := strconv.ParseInt(sess.UserID, 10, 64)
	if err != nil || id <= 0 {
		return domain.User{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	// Millisecond comparison, matching the token's issue time precision.
	if !user.SessionsRevokedAt.IsZero() && sess.IssuedAt.UnixMilli() <= user.SessionsRevokedAt.UnixMilli() {
		return domain.User{}, ErrUnauthenticated
	}
	role, err := domain.ParseRole(string(user.Role))
	if err != nil {
		return domain.User{}, ErrUnauthenticated
	}
	user.Role = role
	return user, nil
}

// Logout revokes token until it expires.
func (a *App) Logout(_ context.Context, token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// ListBooks returns every book ordered by id.
func (a *App) ListBooks(ctx context.Context, role domain.Role) ([]domain.Book, error) {
	if err := authorize(role, policy.ActionViewAny, domain.Book{}); err != nil {
		return nil, err
	}
	books, err := a.store.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// CreateBook validates title and author and stores a new book.
func (a *App) CreateBook(ctx context.Context, role domain.Role, title, author any) (domain.Book, error) {
	if err := authorize(role, policy.ActionCreate, domain.Book{}); err != nil {
		return domain.Book{}, err
	}
	in, err := ParseBookInput(title, author)
	if err != nil {
		return domain.Book{}, err
	}
	book, err := a.store.CreateBook(ctx, domain.Book{Title: in.Title, Author: in.Author})
	if err != nil {
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	return book, nil
}

// GetBook returns one book. Missing books are reported before authorization.
func (a *App) GetBook(ctx context.Context, role domain.Role, id string) (domain.Book, error) {
	book, err := a.findBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if err := authorize(role, policy.ActionView, book); err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

// UpdateBook replaces title and author of an existing book.
func (a *App) UpdateBook(ctx context.Context, role domain.Role, id string, title, author any) (domain.Book, error) {
	book, err := a.findBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if err := authorize(role, policy.ActionUpdate, book); err != nil {
		return domain.Book{}, err
	}
	in, err := ParseBookInput(title, author)
	if err != nil {
		return domain.Book{}, err
	}
	book.Title, book.Author = in.Title, in.Author
	if err := a.store.UpdateBook(ctx, book); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Book{}, ErrNotFound
		}
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	return book, nil
}

// DeleteBook removes an existing book.
func (a *App) DeleteBook(ctx context.Context, role domain.Role, id string) error {
	book, err := a.findBook(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(role, policy.ActionDelete, book); err != nil {
		return err
	}
	if err := a.store.DeleteBook(ctx, book.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// CreateUser registers a user. Operator-only; there is no HTTP route for it.
func (a *App) CreateUser(ctx context.Context, email, password, role string) (domain.User, error) {
	email = normalizeEmail(email)
	parsedRole, err := validateNewUser(email, password, role)
	if err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := a.store.CreateUser(ctx, domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         parsedRole,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailAlreadyExists
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SetUserRole changes a user's role and revokes every session issued before the
// change. The cutoff is stored with the user, so every process sharing the
// database rejects the old tokens; a revoking session store is told as well.
func (a *App) SetUserRole(ctx context.Context, email, role string) (domain.User, error) {
	email = normalizeEmail(email)
	parsedRole, err := domain.ParseRole(role)
	if err != nil {
		return domain.User{}, &ValidationError{Fields: []FieldError{{Field: "role", Reason: ReasonInvalidRole}}}
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	cutoff := time.Now().UTC()
	if err := a.store.SetUserRole(ctx, user.ID, parsedRole, cutoff); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("set role: %w", err)
	}
	if revoker, ok := a.sessions.(store.UserSessionRevoker); ok {
		if err := revoker.RevokeUserSessions(formatID(user.ID), cutoff); err != nil {
			return domain.User{}, fmt.Errorf("revoke sessions: %w", err)
		}
	}
	user.Role = parsedRole
	user.SessionsRevokedAt = cutoff
	return user, nil
}

// ListUsers returns all users ordered by id.
func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// findBook loads the target of a record operation. Ids that are not positive
// integers cannot exist and are reported as not found.
func (a *App) findBook(ctx context.Context, rawID string) (domain.Book, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		return domain.Book{}, ErrNotFound
	}
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	return book, nil
}

func authorize(role domain.Role, action policy.Action, book domain.Book) error {
	if err := policy.Authorize(role, action, book); err != nil {
		return fmt.Errorf("%w: %s", ErrForbidden, action)
	}
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
