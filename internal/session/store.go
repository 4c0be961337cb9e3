// Package session holds per-identity workflow state.
package session

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/shsh-runner/internal/domain"
	"github.com/ashureev/shsh-runner/internal/process"
)

// Session is the workflow state of one identity. Values handed out by the
// Store are copies; only Mutate changes the stored session.
type Session struct {
	Identity string
	Step     domain.Step
	Started  bool
	WorkDir  string

	// Running is the single in-flight child process, if any. It is set only
	// while that process is alive.
	Running     *process.Handle
	RunningKind string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRunning reports whether a child process is recorded.
func (s Session) IsRunning() bool {
	return s.Running != nil
}

type entry struct {
	mu      sync.Mutex
	created bool
	session Session
}

// Store maps identities to sessions. Operations on one identity are
// serialized by that identity's mutex; identities never contend with each
// other.
type Store struct {
	root    string
	entries sync.Map // identity -> *entry
}

// NewStore creates a store whose working directories live under root.
// root is made absolute so that paths handed to child processes do not
// depend on their working directory.
func NewStore(root string) *Store {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Store{root: root}
}

// Root returns the directory that holds every working directory.
func (s *Store) Root() string {
	return s.root
}

// WorkDir returns the working directory for identity.
func (s *Store) WorkDir(identity string) string {
	return filepath.Join(s.root, identity)
}

func (s *Store) entry(identity string) *entry {
	v, _ := s.entries.LoadOrStore(identity, &entry{})
	return v.(*entry)
}

// Get returns a copy of the session, or domain.ErrSessionNotFound.
func (s *Store) Get(identity string) (Session, error) {
	v, ok := s.entries.Load(identity)
	if !ok {
		return Session{}, domain.ErrSessionNotFound
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.created {
		return Session{}, domain.ErrSessionNotFound
	}
	return e.session, nil
}

// GetOrCreate returns the session for identity, creating it if needed.
func (s *Store) GetOrCreate(identity string) Session {
	e := s.entry(identity)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLocked(e, identity)
	return e.session
}

// Mutate applies fn to the session under the identity's lock, creating the
// session first if it does not exist. If fn returns an error the session is
// left untouched. The returned value is the session after the call.
func (s *Store) Mutate(identity string, fn func(*Session) error) (Session, error) {
	e := s.entry(identity)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLocked(e, identity)

	next := e.session
	if err := fn(&next); err != nil {
		return e.session, err
	}
	next.Identity = identity
	next.UpdatedAt = time.Now()
	e.session = next
	return e.session, nil
}

func (s *Store) ensureLocked(e *entry, identity string) {
	if e.created {
		return
	}
	now := time.Now()
	e.session = Session{
		Identity:  identity,
		Step:      domain.StepUninitialized,
		WorkDir:   s.WorkDir(identity),
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.created = true
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.created {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

// Running returns copies of every session with a live process.
func (s *Store) Running() []Session {
	var out []Session
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.created && e.session.Running != nil {
			out = append(out, e.session)
		}
		e.mu.Unlock()
		return true
	})
	return out
}
