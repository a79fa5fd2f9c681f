// Package profile implements the key-value half of the persistence adapter
// (spec.md §4.4): per-user long-term memory under namespace
// (user_memory, user_id), key "profile".
package profile

import (
	"context"
	"errors"
	"regexp"
)

// ErrNotFound indicates no profile exists for the given user_id.
var ErrNotFound = errors.New("profile: not found")

// ErrInvalidUserID indicates user_id failed the namespace validation pattern.
var ErrInvalidUserID = errors.New("profile: invalid user_id")

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateUserID checks user_id against the required pattern
// (spec.md §4.4).
func ValidateUserID(userID string) error {
	if !userIDPattern.MatchString(userID) {
		return ErrInvalidUserID
	}
	return nil
}

// Store gets, puts, and deletes the bullet-list profile memory for a user.
type Store interface {
	Setup(ctx context.Context) error
	Get(ctx context.Context, userID string) (memory string, err error)
	Put(ctx context.Context, userID string, memory string) error
	Delete(ctx context.Context, userID string) error
}
