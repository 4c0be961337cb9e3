// Package auth registers and authenticates accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/ashureev/shsh-runner/internal/domain"
)

// ErrPasswordRequired is returned when registering with an empty password.
var ErrPasswordRequired = errors.New("password required")

// ErrPasswordTooLong is returned for passwords bcrypt cannot hash.
var ErrPasswordTooLong = errors.New("password too long")

// Users is the persistence the service needs.
type Users interface {
	GetUser(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
}

// Service implements register and login.
type Service struct {
	users  Users
	cost   int
	logger *slog.Logger

	// dummyHash is compared against when the user does not exist so that
	// unknown and known usernames take the same time.
	dummyHash []byte
}

// NewService creates a Service hashing with cost. Out of range costs fall
// back to bcrypt.DefaultCost.
func NewService(users Users, cost int, logger *slog.Logger) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("unused-password"), cost)
	return &Service{users: users, cost: cost, logger: logger, dummyHash: dummy}
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, username, password string) (*domain.User, error) {
	if !domain.ValidUsername(username) {
		return nil, domain.ErrInvalidUsername
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, ErrPasswordTooLong
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{Username: username, PasswordHash: string(hash)}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("User registered", "user_id", username)
	return user, nil
}

// Login verifies credentials. Every mismatch, including an unknown
// username, yields domain.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*domain.User, error) {
	if !domain.ValidUsername(username) || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug("Login rejected", "user_id", username)
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}
