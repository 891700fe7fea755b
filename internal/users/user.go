package users

import (
	"strings"
	"time"
)

// User is a diary owner. Deleting a user removes its diaries and calendar days.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null"`
	Username     string    `gorm:"column:username;size:50;not null;uniqueIndex:idx_users_username"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	Nickname     string    `gorm:"column:nickname;size:100"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
