package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookshelf/pkg/domain"
)

// MemoryStore keeps users and books in-process. IDs are assigned sequentially.
type MemoryStore struct {
	mu         sync.RWMutex
	books      map[int64]domain.Book
	users      map[int64]domain.User
	email      map[string]int64 // email -> user ID
	nextBookID int64
	nextUserID int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books: make(map[int64]domain.Book),
		users: make(map[int64]domain.User),
		email: make(map[string]int64),
	}
}

// CreateUser registers a user with the next free ID.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[u.Email]; exists {
		return domain.User{}, ErrDuplicateEmail
	}
	m.nextUserID++
	u.ID = m.nextUserID
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return u, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, exists := m.users[id]
	return u, exists, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SetUserRole changes a user's role and optionally its session cutoff.
func (m *MemoryStore) SetUserRole(_ context.Context, id int64, role domain.Role, sessionsRevokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	if !sessionsRevokedAt.IsZero() {
		u.SessionsRevokedAt = sessionsRevokedAt.UTC()
	}
	m.users[id] = u
	return nil
}

// ListUsers returns all users ordered by ID.
func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// CreateBook stores a book with the next free ID.
func (m *MemoryStore) CreateBook(_ context.Context, b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBookID++
	b.ID = m.nextBookID
	m.books[b.ID] = b
	return b, nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id int64) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns books ordered by ID.
func (m *MemoryStore) ListBooks(_ context.Context) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// UpdateBook replaces an existing book.
func (m *MemoryStore) UpdateBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[b.ID]; !ok {
		return ErrNotFound
	}
	m.books[b.ID] = b
	return nil
}

// DeleteBook removes a book.
func (m *MemoryStore) DeleteBook(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return ErrNotFound
	}
	delete(m.books, id)
	return nil
}
