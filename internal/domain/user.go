// Package domain contains core domain types for the repo runner service.
package domain

import (
	"regexp"
	"time"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// User represents a registered account. The username doubles as the
// identity a workflow session is keyed by.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ValidUsername reports whether name can be used as an identity.
// Identities name per-user directories, so path separators and dot
// segments are never accepted.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// Ban is a single ban list entry.
type Ban struct {
	Username  string    `json:"username"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
