package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/shsh-runner/internal/domain"
	"github.com/ashureev/shsh-runner/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers (ban lookups on every command) proceed during writes.
	// Pragmas are applied to every pooled connection by the driver.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bans (
		username TEXT PRIMARY KEY,
		reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT username, password_hash, created_at, updated_at
		FROM users WHERE username = ?`

	var user domain.User
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.Username, &user.PasswordHash, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// CreateUser inserts a new user, retrying on SQLITE_BUSY with exponential
// backoff.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (username, password_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	attempt := 0
	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		attempt++
		_, err := s.db.ExecContext(ctx, query,
			user.Username, user.PasswordHash,
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if shared.IsSQLiteConflictError(err) {
			slog.Debug("CreateUser failed with SQLITE_BUSY, retrying", "user_id", user.Username, "attempt", attempt)
		}
		return err
	})
	if shared.IsSQLiteUniqueError(err) {
		return domain.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user %s after %d attempts: %w", user.Username, attempt, err)
	}
	return nil
}

// ListUsers returns every user ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT username, password_hash, created_at, updated_at
		FROM users ORDER BY username`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user rows", "error", closeErr)
		}
	}()

	var users []*domain.User
	for rows.Next() {
		var user domain.User
		var createdAt, updatedAt int64
		if err := rows.Scan(&user.Username, &user.PasswordHash, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		user.CreatedAt = time.Unix(createdAt, 0)
		user.UpdatedAt = time.Unix(updatedAt, 0)
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// IsBanned reports whether username is banned.
func (s *SQLiteStore) IsBanned(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bans WHERE username = ?`, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ban: %w", err)
	}
	return n > 0, nil
}

// Ban adds or updates a ban.
func (s *SQLiteStore) Ban(ctx context.Context, username, reason string) error {
	query := `
	INSERT INTO bans (username, reason, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(username) DO UPDATE SET reason = excluded.reason`

	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, username, reason, time.Now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("insert ban: %w", err)
	}
	return nil
}

// Unban removes a ban.
func (s *SQLiteStore) Unban(ctx context.Context, username string) (bool, error) {
	var rows int64
	err := shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM bans WHERE username = ?`, username)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete ban: %w", err)
	}
	return rows > 0, nil
}

// ListBans returns every ban ordered by username.
func (s *SQLiteStore) ListBans(ctx context.Context) ([]domain.Ban, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, reason, created_at FROM bans ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close ban rows", "error", closeErr)
		}
	}()

	var bans []domain.Ban
	for rows.Next() {
		var b domain.Ban
		var createdAt int64
		if err := rows.Scan(&b.Username, &b.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ban row: %w", err)
		}
		b.CreatedAt = time.Unix(createdAt, 0)
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return bans, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
