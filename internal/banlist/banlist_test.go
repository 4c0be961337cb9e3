package banlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileCreatesEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "banned.json")

	f, err := NewFile(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	banned, err := f.IsBanned(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestNewFileKeepsExistingList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.json")
	require.NoError(t, os.WriteFile(path, []byte(`["carol"]`), 0o644))

	f, err := NewFile(path)
	require.NoError(t, err)

	banned, err := f.IsBanned(context.Background(), "carol")
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestExternalEditsApplyImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.json")
	f, err := NewFile(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(path, []byte(`["mallory"]`), 0o644))
	banned, err := f.IsBanned(ctx, "mallory")
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))
	banned, err = f.IsBanned(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestBanUnbanList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.json")
	f, err := NewFile(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, f.Ban(ctx, "zed", "spam"))
	require.NoError(t, f.Ban(ctx, "amy", ""))
	require.NoError(t, f.Ban(ctx, "zed", "again"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `["zed","amy"]`, string(data))

	bans, err := f.ListBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 2)
	assert.Equal(t, "amy", bans[0].Username)
	assert.Equal(t, "zed", bans[1].Username)

	removed, err := f.Unban(ctx, "zed")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.Unban(ctx, "zed")
	require.NoError(t, err)
	assert.False(t, removed)

	banned, err := f.IsBanned(ctx, "zed")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	f, err := NewFile(path)
	require.NoError(t, err)

	_, err = f.IsBanned(context.Background(), "alice")
	assert.Error(t, err)
}

func TestDeletedFileMeansNoBans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banned.json")
	f, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	banned, err := f.IsBanned(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, banned)
}
