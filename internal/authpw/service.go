// Package authpw provides username/password registration and sign-in.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"notesync/api/internal/store"
)

var (
	ErrMissingFields      = errors.New("username and password are required")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
)

// Service provides username/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore is the credential store
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
}

func NewService(users UserStore) *Service {
	return &Service{store: users, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) normalized() (Credentials, error) {
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" || c.Password == "" {
		return Credentials{}, ErrMissingFields
	}
	return c, nil
}

// Register creates a user with a bcrypt password hash
func (s *Service) Register(ctx context.Context, creds Credentials) (store.User, error) {
	creds, err := creds.normalized()
	if err != nil {
		return store.User{}, err
	}

	if _, err := s.store.GetUserByUsername(ctx, creds.Username); err == nil {
		return store.User{}, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return store.User{}, ErrPasswordTooLong
	}
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, creds.Username, string(hash))
	if errors.Is(err, store.ErrUsernameTaken) {
		// lost a race with a concurrent registration
		return store.User{}, ErrUsernameTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn checks the password and returns the user on success
func (s *Service) SignIn(ctx context.Context, creds Credentials) (store.User, error) {
	creds, err := creds.normalized()
	if err != nil {
		return store.User{}, err
	}

	user, err := s.store.GetUserByUsername(ctx, creds.Username)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
