// Package banlist provides ban list backends. The file backend keeps the
// legacy banned.json format, a JSON array of usernames, and re-reads it on
// every lookup so that hand edits apply without a restart.
package banlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/shsh-runner/internal/domain"
)

// List is a mutable ban list. store.Repository satisfies it.
type List interface {
	IsBanned(ctx context.Context, username string) (bool, error)
	Ban(ctx context.Context, username, reason string) error
	Unban(ctx context.Context, username string) (bool, error)
	ListBans(ctx context.Context) ([]domain.Ban, error)
}

// File is a ban list stored as a JSON array of usernames.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a File at path, creating it as an empty list if it does
// not exist.
func NewFile(path string) (*File, error) {
	f := &File{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ban list directory: %w", err)
		}
		if err := f.write(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat ban list: %w", err)
	}
	return f, nil
}

// Path returns the backing file.
func (f *File) Path() string {
	return f.path
}

// IsBanned reads the file and reports whether username is listed.
func (f *File) IsBanned(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names, err := f.read()
	if err != nil {
		return false, err
	}
	return slices.Contains(names, username), nil
}

// Ban appends username. The reason is not persisted by this format.
func (f *File) Ban(_ context.Context, username, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	names, err := f.read()
	if err != nil {
		return err
	}
	if slices.Contains(names, username) {
		return nil
	}
	return f.write(append(names, username))
}

// Unban removes every occurrence of username.
func (f *File) Unban(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names, err := f.read()
	if err != nil {
		return false, err
	}
	kept := slices.DeleteFunc(slices.Clone(names), func(n string) bool { return n == username })
	if len(kept) == len(names) {
		return false, nil
	}
	return true, f.write(kept)
}

// ListBans returns the listed usernames sorted. CreatedAt is the file's
// modification time.
func (f *File) ListBans(_ context.Context) ([]domain.Ban, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names, err := f.read()
	if err != nil {
		return nil, err
	}
	var mod time.Time
	if info, err := os.Stat(f.path); err == nil {
		mod = info.ModTime()
	}
	names = slices.Clone(names)
	slices.Sort(names)
	names = slices.Compact(names)
	bans := make([]domain.Ban, 0, len(names))
	for _, n := range names {
		bans = append(bans, domain.Ban{Username: n, CreatedAt: mod})
	}
	return bans, nil
}

func (f *File) read() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ban list: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse ban list %s: %w", f.path, err)
	}
	return names, nil
}

// write replaces the file atomically.
func (f *File) write(names []string) error {
	if names == nil {
		names = []string{}
	}
	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ban list: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".banned-*.json")
	if err != nil {
		return fmt.Errorf("create ban list temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write ban list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ban list: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace ban list: %w", err)
	}
	return nil
}
