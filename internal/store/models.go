package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already exists")
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Note is owned by exactly one user. Every lookup and write is keyed by
// (ID, OwnerID).
type Note struct {
	ID        string
	OwnerID   string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteFields is a partial update; nil fields are left untouched.
type NoteFields struct {
	Title   *string
	Content *string
}

func (f NoteFields) Empty() bool {
	return f.Title == nil && f.Content == nil
}
