package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/tannerhall/worldvault/pkg/access"
	"github.com/tannerhall/worldvault/pkg/lease"
	"github.com/tannerhall/worldvault/pkg/objects"
	"github.com/tannerhall/worldvault/pkg/repositories"
)

// ErrConflict is returned when a version precondition is stale. The
// caller must re-read and reapply its changes against the new version;
// conflicts are never merged or retried here.
type ErrConflict struct {
}

func (e *ErrConflict) Error() string {
	return "conflict"
}

func IsConflict(err error) bool {
	_, ok := err.(*ErrConflict)
	return ok
}

// Notifier is told about every accepted write, for out-of-core real-time
// propagation to other viewers.
type Notifier interface {
	Notify(worldID string, objectID string, version uint64)
}

// Gateway composes the access guard, the lease manager, and the versioned
// state store into the load/save/lock operations exposed to the network
// layer. A Forbidden, Locked, or Conflict result is terminal for the
// call; callers decide whether to retry, rebase, or abort.
type Gateway struct {
	registry   *objects.Registry
	repository repositories.Repository
	leases     *lease.Manager
	notifier   Notifier
	now        func() time.Time
}

type NewGatewayOptions struct {
	Registry   *objects.Registry
	Repository repositories.Repository
	Leases     *lease.Manager
	Notifier   Notifier
}

func NewGateway(opts NewGatewayOptions) *Gateway {
	return &Gateway{
		registry:   opts.Registry,
		repository: opts.Repository,
		leases:     opts.Leases,
		notifier:   opts.Notifier,
		now:        time.Now,
	}
}

// LoadResult carries an object's state and version, plus the caller's
// lease grant for lease-gated classes.
type LoadResult struct {
	State         []byte
	Version       uint64
	LockToken     string
	LockExpiresAt time.Time
}

// Precondition is the caller's write precondition: a lease token for
// lease-gated classes, an expected version for everything else.
type Precondition struct {
	LockToken       string
	ExpectedVersion uint64
}

// SaveResult reports the version assigned to an accepted write.
type SaveResult struct {
	Version uint64
}

// Load reads an object's state. Objects that were never saved read as
// empty state at version 0. For lease-gated classes the caller's lease is
// acquired or inspected and attached to the result; if another holder is
// active the load fails with Locked.
func (g *Gateway) Load(ctx context.Context, key objects.Key, callerID string) (*LoadResult, error) {
	policy, err := g.registry.Lookup(key.Class())
	if err != nil {
		return nil, err
	}

	state, err := g.getState(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := access.Check(policy, state, callerID); err != nil {
		return nil, err
	}

	result := &LoadResult{}
	if state != nil {
		result.State = state.Payload
		result.Version = state.Version
	}

	if policy == objects.PolicyLeaseGated {
		grant, err := g.leases.AcquireOrInspect(ctx, key, callerID)
		if err != nil {
			return nil, err
		}
		result.LockToken = grant.Token
		result.LockExpiresAt = grant.ExpiresAt
	}

	return result, nil
}

// Save writes an object's state if the caller's precondition holds.
// Lease-gated classes require the active lease token (anything else is
// Locked); versioned classes require the expected version (a stale one is
// Conflict). On an accepted write the notifier is informed.
func (g *Gateway) Save(ctx context.Context, key objects.Key, callerID string, precondition Precondition, payload []byte) (*SaveResult, error) {
	policy, err := g.registry.Lookup(key.Class())
	if err != nil {
		return nil, err
	}

	state, err := g.getState(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := access.Check(policy, state, callerID); err != nil {
		return nil, err
	}

	var expectedVersion uint64
	if policy == objects.PolicyLeaseGated {
		if err := g.leases.Verify(ctx, key, callerID, precondition.LockToken); err != nil {
			return nil, err
		}
		// The write authorization came from the lease; the store still
		// re-validates that the version did not move underneath.
		if state != nil {
			expectedVersion = state.Version
		}
	} else {
		expectedVersion = precondition.ExpectedVersion
	}

	ownerID := ""
	if policy == objects.PolicyOwnerVersioned {
		ownerID = callerID
	}

	newVersion, err := g.repository.CompareAndSwapState(ctx, key, expectedVersion, payload, ownerID, g.now())
	if err != nil {
		if repositories.IsVersionMismatch(err) {
			return nil, &ErrConflict{}
		}
		return nil, fmt.Errorf("failed to write object state: %v", err)
	}

	if g.notifier != nil {
		g.notifier.Notify(key.WorldID, key.ObjectID, newVersion)
	}

	return &SaveResult{Version: newVersion}, nil
}

// LockStatus reports whether an active lease exists for key.
func (g *Gateway) LockStatus(ctx context.Context, key objects.Key) (*lease.Status, error) {
	return g.leases.Status(ctx, key)
}

// RenewLock extends the caller's lease. Locked on any token mismatch or
// expiry.
func (g *Gateway) RenewLock(ctx context.Context, key objects.Key, callerID string, token string) (time.Time, error) {
	return g.leases.Renew(ctx, key, callerID, token)
}

// ReleaseLock gives up the caller's lease. Idempotent, never an error for
// mismatched or already-released tokens.
func (g *Gateway) ReleaseLock(ctx context.Context, key objects.Key, callerID string, token string) error {
	return g.leases.Release(ctx, key, callerID, token)
}

func (g *Gateway) getState(ctx context.Context, key objects.Key) (*objects.State, error) {
	state, err := g.repository.GetState(ctx, key)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get object state: %v", err)
	}
	return state, nil
}
