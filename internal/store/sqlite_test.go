package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ashureev/shsh-runner/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var _ Repository = (*SQLiteStore)(nil)

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.CreateUser(ctx, &domain.User{Username: "alice", PasswordHash: "hash-a"}))

	got, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "hash-a", got.PasswordHash)
	assert.False(t, got.CreatedAt.IsZero())

	err = s.CreateUser(ctx, &domain.User{Username: "alice", PasswordHash: "other"})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	got, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash-a", got.PasswordHash, "duplicate registration must not overwrite")
}

func TestListUsersOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.CreateUser(ctx, &domain.User{Username: name, PasswordHash: "h"}))
	}

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
	assert.Equal(t, "carol", users[2].Username)
}

func TestConcurrentCreateSameUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		exists  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateUser(ctx, &domain.User{Username: "dave", PasswordHash: "h"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrUserExists):
				exists++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, exists)
}

func TestBans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	banned, err := s.IsBanned(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, s.Ban(ctx, "carol", "spam"))
	require.NoError(t, s.Ban(ctx, "carol", "abuse"))
	require.NoError(t, s.Ban(ctx, "alice", ""))

	banned, err = s.IsBanned(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, banned)

	bans, err := s.ListBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 2)
	assert.Equal(t, "alice", bans[0].Username)
	assert.Equal(t, "carol", bans[1].Username)
	assert.Equal(t, "abuse", bans[1].Reason)

	removed, err := s.Unban(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Unban(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, removed)

	banned, err = s.IsBanned(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateUser(ctx, &domain.User{Username: "erin", PasswordHash: "h"}))
	require.NoError(t, s.Ban(ctx, "frank", ""))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	u, err := s.GetUser(ctx, "erin")
	require.NoError(t, err)
	assert.NotNil(t, u)
	banned, err := s.IsBanned(ctx, "frank")
	require.NoError(t, err)
	assert.True(t, banned)
	assert.NoError(t, s.Ping(ctx))
}
