// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/shsh-runner/internal/domain"
)

// Repository defines the interface for persisting accounts and bans.
type Repository interface {
	// GetUser retrieves a user by username. It returns nil, nil when the
	// user does not exist.
	GetUser(ctx context.Context, username string) (*domain.User, error)

	// CreateUser inserts a new user. It returns domain.ErrUserExists if the
	// username is taken.
	CreateUser(ctx context.Context, user *domain.User) error

	// ListUsers returns every user ordered by username.
	ListUsers(ctx context.Context) ([]*domain.User, error)

	// IsBanned reports whether username is on the ban list.
	IsBanned(ctx context.Context, username string) (bool, error)

	// Ban adds username to the ban list, replacing the reason of an
	// existing entry.
	Ban(ctx context.Context, username, reason string) error

	// Unban removes username from the ban list and reports whether an entry
	// was removed.
	Unban(ctx context.Context, username string) (bool, error)

	// ListBans returns every ban ordered by username.
	ListBans(ctx context.Context) ([]domain.Ban, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
