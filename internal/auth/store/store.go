package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface for durable identity data.
// Concrete drivers (sqlite) implement this. Sub-repositories are exposed as
// methods so a Tx-scoped Store cannot start a nested transaction.
type Store interface {
	Users() Users

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn errors.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByIdentifier is used during login-start.
	GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error)

	// CreateUser inserts a new user. Returns ErrAlreadyExists on a duplicate
	// identifier.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateRole changes a user's role and bumps updated_at.
	UpdateRole(ctx context.Context, userID string, role domain.Role) error

	// DeleteUser removes a user. Returns ErrNotFound when there is none.
	DeleteUser(ctx context.Context, userID string) error

	// IsEmpty returns true if there are no users.
	IsEmpty(ctx context.Context) (bool, error)
}

// Ephemeral is a key/value store for short-lived handshake state (pending
// sessions, OTP challenges). Values expire after their ttl; drivers may
// expire lazily. Every method must be safe for concurrent use and Take,
// CompareAndDelete and Incr must be atomic.
type Ephemeral interface {
	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Take atomically returns and removes the value, or ErrNotFound. Of many
	// concurrent Takes for one key, at most one succeeds.
	Take(ctx context.Context, key string) ([]byte, error)

	// CompareAndDelete atomically removes key only if it currently holds
	// expected, reporting whether it did.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Incr adds one to the counter at key and returns the new value. A
	// missing counter starts at zero and expires after ttl; later calls keep
	// the original expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
