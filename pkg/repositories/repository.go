package repositories

import (
	"context"
	"time"

	"github.com/tannerhall/worldvault/pkg/objects"
)

// Repository provides durable storage for object state and lease rows.
// Every mutation is conditional: implementations must never overwrite a
// row whose current state does not match the caller's precondition, and
// each conditional check-and-write must be atomic with respect to other
// writers of the same key.
type Repository interface {
	Close(ctx context.Context) error

	// GetLease returns the lease row for key, whether expired or not.
	// Returns ErrNotFound if no row exists.
	GetLease(ctx context.Context, key objects.Key) (*objects.Lease, error)
	// ClaimLease atomically creates the lease row for key, or replaces it
	// if the existing row is expired as of now. Returns ErrLeaseHeld if an
	// unexpired lease exists.
	ClaimLease(ctx context.Context, lease *objects.Lease, now time.Time) error
	// RenewLease sets the lease expiry to expiresAt, but only if holder
	// and token match the current row and the lease is unexpired as of
	// now. Returns ErrLeaseHeld otherwise.
	RenewLease(ctx context.Context, key objects.Key, holderID string, token string, expiresAt time.Time, now time.Time) error
	// ReleaseLease deletes the lease row if holder and token match.
	// Releasing a missing or mismatched lease is not an error.
	ReleaseLease(ctx context.Context, key objects.Key, holderID string, token string) error
	// DeleteExpiredLeases removes lease rows expired as of now and returns
	// how many were removed. Hygiene only: expiry is evaluated lazily on
	// every lease access, so correctness does not depend on this running.
	DeleteExpiredLeases(ctx context.Context, now time.Time) (int64, error)

	// GetState returns the stored object state. Returns ErrNotFound if the
	// object was never saved.
	GetState(ctx context.Context, key objects.Key) (*objects.State, error)
	// CompareAndSwapState replaces the payload if the stored version
	// equals expectedVersion, and returns the new version. An
	// expectedVersion of 0 creates the row at version 1 and fixes ownerID.
	// Returns ErrVersionMismatch without mutating anything otherwise.
	CompareAndSwapState(ctx context.Context, key objects.Key, expectedVersion uint64, payload []byte, ownerID string, now time.Time) (uint64, error)
}
