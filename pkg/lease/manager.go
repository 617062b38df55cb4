package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tannerhall/worldvault/pkg/objects"
	"github.com/tannerhall/worldvault/pkg/repositories"
)

// DefaultTTL is how long a lease stays valid without a renew.
const DefaultTTL = 60 * time.Second

// ErrLocked is returned when another holder has the active lease, or when
// a presented token does not match the active lease.
type ErrLocked struct {
}

func (e *ErrLocked) Error() string {
	return "locked"
}

func IsLocked(err error) bool {
	_, ok := err.(*ErrLocked)
	return ok
}

// Grant is the holder's view of an active lease.
type Grant struct {
	Token     string
	ExpiresAt time.Time
}

// Status is the public view of a lock.
type Status struct {
	Held      bool
	HolderID  string
	ExpiresAt time.Time
}

// Manager issues, renews, and releases time-bound exclusive leases keyed
// by object. Lease rows live in the repository so that lock state
// survives process restarts; expiry is evaluated lazily on every access.
type Manager struct {
	repository repositories.Repository
	ttl        time.Duration
	now        func() time.Time
}

type NewManagerOptions struct {
	Repository repositories.Repository
	TTL        time.Duration
}

func NewManager(opts NewManagerOptions) *Manager {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		repository: opts.Repository,
		ttl:        ttl,
		now:        time.Now,
	}
}

// nowMilli returns the current time at millisecond precision. Lease
// times round-trip through millisecond columns, so grants are issued at
// the same precision to match what later reads report.
func (m *Manager) nowMilli() time.Time {
	return time.UnixMilli(m.now().UnixMilli())
}

// AcquireOrInspect returns a grant for holderID: the existing one if
// holderID already holds the active lease, or a fresh one if no active
// lease exists. Returns ErrLocked if another holder's lease is active.
func (m *Manager) AcquireOrInspect(ctx context.Context, key objects.Key, holderID string) (*Grant, error) {
	now := m.nowMilli()

	current, err := m.repository.GetLease(ctx, key)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get lease: %v", err)
	}
	if err == nil && !current.Expired(now) {
		if current.HolderID == holderID {
			return &Grant{Token: current.Token, ExpiresAt: current.ExpiresAt}, nil
		}
		return nil, &ErrLocked{}
	}

	claim := &objects.Lease{
		Key:       key,
		HolderID:  holderID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.repository.ClaimLease(ctx, claim, now); err != nil {
		if !repositories.IsLeaseHeld(err) {
			return nil, fmt.Errorf("failed to claim lease: %v", err)
		}
		// Lost the claim race. If the winner was a concurrent request from
		// the same holder, surface its grant instead of a conflict.
		current, getErr := m.repository.GetLease(ctx, key)
		if getErr == nil && !current.Expired(now) && current.HolderID == holderID {
			return &Grant{Token: current.Token, ExpiresAt: current.ExpiresAt}, nil
		}
		return nil, &ErrLocked{}
	}

	return &Grant{Token: claim.Token, ExpiresAt: claim.ExpiresAt}, nil
}

// Renew extends the lease by the TTL. It succeeds only if token matches
// the active lease and the lease is unexpired; it never re-issues a lease.
func (m *Manager) Renew(ctx context.Context, key objects.Key, holderID string, token string) (time.Time, error) {
	now := m.nowMilli()
	expiresAt := now.Add(m.ttl)
	if err := m.repository.RenewLease(ctx, key, holderID, token, expiresAt, now); err != nil {
		if repositories.IsLeaseHeld(err) {
			return time.Time{}, &ErrLocked{}
		}
		return time.Time{}, fmt.Errorf("failed to renew lease: %v", err)
	}
	return expiresAt, nil
}

// Verify checks that token is the active lease token for holderID without
// touching the lease. Returns ErrLocked on any mismatch or expiry.
func (m *Manager) Verify(ctx context.Context, key objects.Key, holderID string, token string) error {
	now := m.now()
	current, err := m.repository.GetLease(ctx, key)
	if err != nil {
		if repositories.IsNotFound(err) {
			return &ErrLocked{}
		}
		return fmt.Errorf("failed to get lease: %v", err)
	}
	if current.Expired(now) || current.HolderID != holderID || current.Token != token || token == "" {
		return &ErrLocked{}
	}
	return nil
}

// Release deletes the lease if token matches. Releasing a lease you never
// held, or already released, is never an error.
func (m *Manager) Release(ctx context.Context, key objects.Key, holderID string, token string) error {
	if err := m.repository.ReleaseLease(ctx, key, holderID, token); err != nil {
		return fmt.Errorf("failed to release lease: %v", err)
	}
	return nil
}

// Status reports whether an active lease exists for key and who holds it.
func (m *Manager) Status(ctx context.Context, key objects.Key) (*Status, error) {
	now := m.now()
	current, err := m.repository.GetLease(ctx, key)
	if err != nil {
		if repositories.IsNotFound(err) {
			return &Status{Held: false}, nil
		}
		return nil, fmt.Errorf("failed to get lease: %v", err)
	}
	if current.Expired(now) {
		return &Status{Held: false}, nil
	}
	return &Status{
		Held:      true,
		HolderID:  current.HolderID,
		ExpiresAt: current.ExpiresAt,
	}, nil
}
