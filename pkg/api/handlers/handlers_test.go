package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tannerhall/worldvault/pkg/api"
	authproviders "github.com/tannerhall/worldvault/pkg/auth/providers"
	"github.com/tannerhall/worldvault/pkg/gateway"
	"github.com/tannerhall/worldvault/pkg/lease"
	"github.com/tannerhall/worldvault/pkg/objects"
	"github.com/tannerhall/worldvault/pkg/repositories"
)

// newTestServer stands up the API against a SQLite-backed gateway with
// the default class registrations. The guest auth provider treats the
// bearer token as the caller ID.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repository, err := repositories.NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repository.Close(context.Background())
	})

	registry := objects.NewRegistry()
	require.NoError(t, registry.Register("forge", objects.PolicyLeaseGated))
	require.NoError(t, registry.Register("chest", objects.PolicyOwnerVersioned))
	require.NoError(t, registry.Register("chunk", objects.PolicyVersionedOnly))

	gw := gateway.NewGateway(gateway.NewGatewayOptions{
		Registry:   registry,
		Repository: repository,
		Leases: lease.NewManager(lease.NewManagerOptions{
			Repository: repository,
			TTL:        time.Minute,
		}),
	})

	server := httptest.NewServer(api.NewRouter(&authproviders.GuestAuthProvider{}, gw, nil))
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, server *httptest.Server, method, path, callerID string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)
	if callerID != "" {
		req.Header.Set("Authorization", "Bearer "+callerID)
	}

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func stateQuery(worldID, objectID, callerID string) string {
	return fmt.Sprintf("?worldId=%s&objectId=%s&callerId=%s", worldID, objectID, callerID)
}

func TestHandlers_RequireAuth(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "chunk:0", "alice"), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlers_CallerMismatch(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "chunk:0", "bob"), "alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlers_MissingParams(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doRequest(t, server, http.MethodGet, "/state?worldId=w1&callerId=alice", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "chunk:0", ""), "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlers_UnknownClass(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "portal:1", "alice"), "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlers_UnsavedObjectReadsAsEmpty(t *testing.T) {
	server := newTestServer(t)

	resp, body := doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "chunk:9,9", "alice"), "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["version"])
	assert.Equal(t, map[string]interface{}{}, body["state"])
}

func TestHandlers_ForgeLeaseLifecycle(t *testing.T) {
	server := newTestServer(t)

	// First load acquires the lease for alice.
	resp, body := doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "forge:7", "alice"), "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, ok := body["lockToken"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)
	assert.Equal(t, float64(0), body["version"])

	// Bob cannot load while alice holds the lease.
	resp, _ = doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "forge:7", "bob"), "bob", nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	// Lock status names alice as the holder.
	resp, body = doRequest(t, server, http.MethodGet, "/lock/status?worldId=w1&objectId=forge:7", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["held"])
	assert.Equal(t, "alice", body["holderId"])

	// A save with the lease token is accepted.
	resp, body = doRequest(t, server, http.MethodPut, "/state", "alice", map[string]interface{}{
		"worldId":   "w1",
		"objectId":  "forge:7",
		"callerId":  "alice",
		"lockToken": token,
		"state":     map[string]interface{}{"fuel": 3},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])

	// A save without the token is rejected as locked.
	resp, _ = doRequest(t, server, http.MethodPut, "/state", "bob", map[string]interface{}{
		"worldId":   "w1",
		"objectId":  "forge:7",
		"callerId":  "bob",
		"lockToken": "bogus",
		"state":     map[string]interface{}{"fuel": 0},
	})
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	// Renew extends the lease for the holder.
	resp, body = doRequest(t, server, http.MethodPost, "/lock/renew", "alice", map[string]interface{}{
		"worldId":   "w1",
		"objectId":  "forge:7",
		"callerId":  "alice",
		"lockToken": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotZero(t, body["expiresAt"])

	// Renew with a stale token is locked.
	resp, _ = doRequest(t, server, http.MethodPost, "/lock/renew", "bob", map[string]interface{}{
		"worldId":   "w1",
		"objectId":  "forge:7",
		"callerId":  "bob",
		"lockToken": "bogus",
	})
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	// Release always succeeds; afterwards bob can acquire.
	resp, _ = doRequest(t, server, http.MethodPost, "/lock/release", "alice", map[string]interface{}{
		"worldId":   "w1",
		"objectId":  "forge:7",
		"callerId":  "alice",
		"lockToken": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "forge:7", "bob"), "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["lockToken"])
	assert.Equal(t, float64(1), body["version"])
}

func TestHandlers_ChunkVersionConflict(t *testing.T) {
	server := newTestServer(t)

	// Both callers read the unsaved chunk at version 0.
	resp, body := doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "chunk:3", "alice"), "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["version"])

	// Alice saves first and wins.
	resp, body = doRequest(t, server, http.MethodPut, "/state", "alice", map[string]interface{}{
		"worldId":         "w1",
		"objectId":        "chunk:3",
		"callerId":        "alice",
		"expectedVersion": 0,
		"state":           map[string]interface{}{"blocks": []int{1}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])

	// Bob's save against the stale version conflicts.
	resp, _ = doRequest(t, server, http.MethodPut, "/state", "bob", map[string]interface{}{
		"worldId":         "w1",
		"objectId":        "chunk:3",
		"callerId":        "bob",
		"expectedVersion": 0,
		"state":           map[string]interface{}{"blocks": []int{2}},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// After re-reading, bob's save against the current version is accepted.
	resp, body = doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "chunk:3", "bob"), "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["version"])

	resp, body = doRequest(t, server, http.MethodPut, "/state", "bob", map[string]interface{}{
		"worldId":         "w1",
		"objectId":        "chunk:3",
		"callerId":        "bob",
		"expectedVersion": 1,
		"state":           map[string]interface{}{"blocks": []int{2}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["version"])
}

func TestHandlers_ChestOwnerGate(t *testing.T) {
	server := newTestServer(t)

	// Alice's first save fixes her as the owner.
	resp, _ := doRequest(t, server, http.MethodPut, "/state", "alice", map[string]interface{}{
		"worldId":         "w1",
		"objectId":        "chest:42",
		"callerId":        "alice",
		"expectedVersion": 0,
		"state":           map[string]interface{}{"items": []string{"sword"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Bob can neither read nor write alice's chest.
	resp, _ = doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "chest:42", "bob"), "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doRequest(t, server, http.MethodPut, "/state", "bob", map[string]interface{}{
		"worldId":         "w1",
		"objectId":        "chest:42",
		"callerId":        "bob",
		"expectedVersion": 1,
		"state":           map[string]interface{}{"items": []string{}},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The owner reads her own state back.
	resp, body := doRequest(t, server, http.MethodGet, "/state"+stateQuery("w1", "chest:42", "alice"), "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])
	state, ok := body["state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"sword"}, state["items"])
}
