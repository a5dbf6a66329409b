package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bookshelf/pkg/domain"
)

const migrateLockID int64 = 73217321

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
// Postgres DSNs (postgres://, postgresql:// or key=value with host=) use the
// Postgres driver; anything else is treated as a SQLite path or "sqlite://" URL.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database URL required")
	}
	dialector, isPostgres := openDialector(dsn)

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) (gorm.Dialector, bool) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return postgres.Open(dsn), true
	}
	return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), false
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a user and returns it with its generated ID.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetUserRole changes a user's role and optionally its session cutoff.
func (s *GormStore) SetUserRole(ctx context.Context, id int64, role domain.Role, sessionsRevokedAt time.Time) error {
	updates := map[string]any{
		"role":       string(role),
		"updated_at": time.Now().UTC(),
	}
	if !sessionsRevokedAt.IsZero() {
		updates["sessions_revoked_at"] = sessionsRevokedAt.UTC()
	}
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users ordered by ID.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// CreateBook inserts a book and returns it with its generated ID.
func (s *GormStore) CreateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	model := bookToModel(b)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Book{}, err
	}
	return bookFromModel(model), nil
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id int64) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by ID.
func (s *GormStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// UpdateBook overwrites title and author of an existing book in one statement.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) error {
	res := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"title":      b.Title,
			"author":     b.Author,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBook removes a book.
func (s *GormStore) DeleteBook(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&BookModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func userToModel(u domain.User) UserModel {
	m := UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if !u.SessionsRevokedAt.IsZero() {
		at := u.SessionsRevokedAt.UTC()
		m.SessionsRevokedAt = &at
	}
	return m
}

// userFromModel keeps the stored role verbatim; callers parse it.
func userFromModel(m UserModel) domain.User {
	u := domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.Role(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.SessionsRevokedAt != nil {
		u.SessionsRevokedAt = m.SessionsRevokedAt.UTC()
	}
	return u
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:     b.ID,
		Title:  b.Title,
		Author: b.Author,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:     m.ID,
		Title:  m.Title,
		Author: m.Author,
	}
}
