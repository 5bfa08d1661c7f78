package session

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("session: store is closed")

// Store persists the replicated state of sessions. Implementations must be
// safe for concurrent use.
type Store interface {
	// Save writes encoded session state, overwriting any previous state
	// for sessionID.
	Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error

	// Load returns the state for sessionID, or (nil, nil) if it does not
	// exist or has expired.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Touch extends the expiry without rewriting the state.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error

	// SaveAll writes several sessions, atomically where the backend allows.
	SaveAll(ctx context.Context, sessions map[string]Record) error

	// Close releases resources held by the store.
	Close() error
}

// Record is encoded session state with its expiry.
type Record struct {
	Data      []byte
	ExpiresAt time.Time
}
