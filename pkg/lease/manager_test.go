package lease

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tannerhall/worldvault/pkg/objects"
	"github.com/tannerhall/worldvault/pkg/repositories"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *time.Time) {
	t.Helper()
	repository, err := repositories.NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repository.Close(context.Background())
	})

	manager := NewManager(NewManagerOptions{
		Repository: repository,
		TTL:        ttl,
	})
	current := time.Now()
	manager.now = func() time.Time {
		return current
	}
	return manager, &current
}

func TestManager_AcquireOrInspect(t *testing.T) {
	ctx := context.Background()
	manager, current := newTestManager(t, time.Minute)
	key := objects.Key{WorldID: "w1", ObjectID: "forge:1"}

	grant, err := manager.AcquireOrInspect(ctx, key, "g1")
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Token)
	assert.Equal(t, current.Add(time.Minute).UnixMilli(), grant.ExpiresAt.UnixMilli())

	// Re-inspection by the holder is idempotent: the grant round-trips
	// through millisecond lease rows unchanged.
	again, err := manager.AcquireOrInspect(ctx, key, "g1")
	require.NoError(t, err)
	assert.Equal(t, grant.Token, again.Token)
	assert.Equal(t, grant.ExpiresAt, again.ExpiresAt)

	// The expiry the holder keeps matches what status reports.
	status, err := manager.Status(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, grant.ExpiresAt, status.ExpiresAt)

	// A different holder is locked out while the lease is active.
	_, err = manager.AcquireOrInspect(ctx, key, "g2")
	assert.True(t, IsLocked(err))

	// After expiry the lease is up for grabs again.
	*current = current.Add(2 * time.Minute)
	stolen, err := manager.AcquireOrInspect(ctx, key, "g2")
	require.NoError(t, err)
	assert.NotEqual(t, grant.Token, stolen.Token)
}

func TestManager_AcquireOrInspect_DistinctKeys(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t, time.Minute)

	// Leases on different keys never contend.
	_, err := manager.AcquireOrInspect(ctx, objects.Key{WorldID: "w1", ObjectID: "forge:1"}, "g1")
	require.NoError(t, err)
	_, err = manager.AcquireOrInspect(ctx, objects.Key{WorldID: "w1", ObjectID: "forge:2"}, "g2")
	require.NoError(t, err)
	_, err = manager.AcquireOrInspect(ctx, objects.Key{WorldID: "w2", ObjectID: "forge:1"}, "g2")
	require.NoError(t, err)
}

func TestManager_Renew(t *testing.T) {
	ctx := context.Background()
	manager, current := newTestManager(t, time.Minute)
	key := objects.Key{WorldID: "w1", ObjectID: "forge:1"}

	grant, err := manager.AcquireOrInspect(ctx, key, "g1")
	require.NoError(t, err)

	*current = current.Add(30 * time.Second)
	expiresAt, err := manager.Renew(ctx, key, "g1", grant.Token)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(grant.ExpiresAt))

	// A stale token is rejected, not silently re-issued.
	_, err = manager.Renew(ctx, key, "g1", "bogus")
	assert.True(t, IsLocked(err))
	_, err = manager.Renew(ctx, key, "g2", grant.Token)
	assert.True(t, IsLocked(err))

	// An expired lease cannot be renewed.
	*current = current.Add(2 * time.Minute)
	_, err = manager.Renew(ctx, key, "g1", grant.Token)
	assert.True(t, IsLocked(err))
}

func TestManager_Verify(t *testing.T) {
	ctx := context.Background()
	manager, current := newTestManager(t, time.Minute)
	key := objects.Key{WorldID: "w1", ObjectID: "forge:1"}

	assert.True(t, IsLocked(manager.Verify(ctx, key, "g1", "t1")))

	grant, err := manager.AcquireOrInspect(ctx, key, "g1")
	require.NoError(t, err)

	assert.NoError(t, manager.Verify(ctx, key, "g1", grant.Token))
	assert.True(t, IsLocked(manager.Verify(ctx, key, "g1", "bogus")))
	assert.True(t, IsLocked(manager.Verify(ctx, key, "g2", grant.Token)))
	assert.True(t, IsLocked(manager.Verify(ctx, key, "g1", "")))

	*current = current.Add(2 * time.Minute)
	assert.True(t, IsLocked(manager.Verify(ctx, key, "g1", grant.Token)))
}

func TestManager_ReleaseScenario(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t, time.Minute)
	key := objects.Key{WorldID: "w1", ObjectID: "forge:1"}

	// Releasing something never held is Ok.
	assert.NoError(t, manager.Release(ctx, key, "g1", "t1"))

	grant, err := manager.AcquireOrInspect(ctx, key, "g1")
	require.NoError(t, err)

	// A mismatched release is a no-op that still returns Ok.
	assert.NoError(t, manager.Release(ctx, key, "g1", "bogus"))
	status, err := manager.Status(ctx, key)
	require.NoError(t, err)
	assert.True(t, status.Held)
	assert.Equal(t, "g1", status.HolderID)

	assert.NoError(t, manager.Release(ctx, key, "g1", grant.Token))
	status, err = manager.Status(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Held)

	// Released twice is still Ok, and the next holder can acquire.
	assert.NoError(t, manager.Release(ctx, key, "g1", grant.Token))
	_, err = manager.AcquireOrInspect(ctx, key, "g2")
	assert.NoError(t, err)
}
