// Package session keeps per-browser state for the dashboard: identity, the
// selected crop mapping and pending toasts. Values are strings keyed by
// session id and key; persistence is pluggable (memory, SQL via gorm, redis).
package session

import (
	"context"
	"errors"
)

// Well-known keys.
const (
	KeyToken        = "token"
	KeyUsername     = "username"
	KeyUserID       = "userId"
	KeySelectedCrop = "selectedCrop"
	KeyFlash        = "flash"
	KeyResetEmail   = "resetEmail"
	KeyResetToken   = "resetToken"
)

// ErrNotFound is returned by Get when the key is not set.
var ErrNotFound = errors.New("session key not found")

var (
	errEmptySessionID = errors.New("session id cannot be empty")
	errEmptyKey       = errors.New("session key cannot be empty")
)

// Store persists session values. Implementations are safe for concurrent use;
// concurrent writers to the same key resolve as last writer wins.
type Store interface {
	Get(ctx context.Context, sid, key string) (string, error)
	Set(ctx context.Context, sid, key, value string) error
	Delete(ctx context.Context, sid, key string) error
	// Clear removes every key of the session.
	Clear(ctx context.Context, sid string) error
	Close() error
}

func validate(sid, key string) error {
	if sid == "" {
		return errEmptySessionID
	}
	if key == "" {
		return errEmptyKey
	}
	return nil
}
