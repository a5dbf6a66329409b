package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// SessionsRevokedAt rejects tokens issued at or before it. Null means none.
	SessionsRevokedAt *time.Time
}

type BookModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Title     string `gorm:"not null"`
	Author    string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
