package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tannerhall/worldvault/pkg/access"
	"github.com/tannerhall/worldvault/pkg/api/middleware"
	"github.com/tannerhall/worldvault/pkg/gateway"
	"github.com/tannerhall/worldvault/pkg/lease"
	"github.com/tannerhall/worldvault/pkg/log"
	"github.com/tannerhall/worldvault/pkg/objects"
)

type stateResponse struct {
	State         json.RawMessage `json:"state"`
	Version       uint64          `json:"version"`
	LockToken     string          `json:"lockToken,omitempty"`
	LockExpiresAt int64           `json:"lockExpiresAt,omitempty"`
}

type saveRequest struct {
	WorldID         string          `json:"worldId"`
	ObjectID        string          `json:"objectId"`
	CallerID        string          `json:"callerId"`
	LockToken       string          `json:"lockToken,omitempty"`
	ExpectedVersion uint64          `json:"expectedVersion,omitempty"`
	State           json.RawMessage `json:"state"`
}

type saveResponse struct {
	Version uint64 `json:"version"`
}

type lockRequest struct {
	WorldID   string `json:"worldId"`
	ObjectID  string `json:"objectId"`
	CallerID  string `json:"callerId"`
	LockToken string `json:"lockToken"`
}

type lockStatusResponse struct {
	Held      bool   `json:"held"`
	HolderID  string `json:"holderId,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

type renewResponse struct {
	ExpiresAt int64 `json:"expiresAt"`
}

func HandleLoadState(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFromQuery(w, r)
		if !ok {
			return
		}
		callerID, ok := callerFromRequest(w, r, r.URL.Query().Get("callerId"))
		if !ok {
			return
		}

		result, err := gw.Load(r.Context(), key, callerID)
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		// Never-saved objects read as an empty object, not null.
		state := json.RawMessage(`{}`)
		if len(result.State) > 0 {
			state = json.RawMessage(result.State)
		}
		resp := stateResponse{
			State:   state,
			Version: result.Version,
		}
		if result.LockToken != "" {
			resp.LockToken = result.LockToken
			resp.LockExpiresAt = result.LockExpiresAt.UnixMilli()
		}
		writeJSON(w, resp)
	}
}

func HandleSaveState(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Failed to decode request body", http.StatusBadRequest)
			return
		}
		if req.WorldID == "" || req.ObjectID == "" {
			http.Error(w, "worldId and objectId are required", http.StatusBadRequest)
			return
		}
		callerID, ok := callerFromRequest(w, r, req.CallerID)
		if !ok {
			return
		}

		key := objects.Key{WorldID: req.WorldID, ObjectID: req.ObjectID}
		precondition := gateway.Precondition{
			LockToken:       req.LockToken,
			ExpectedVersion: req.ExpectedVersion,
		}
		result, err := gw.Save(r.Context(), key, callerID, precondition, req.State)
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		writeJSON(w, saveResponse{Version: result.Version})
	}
}

func HandleLockStatus(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFromQuery(w, r)
		if !ok {
			return
		}

		status, err := gw.LockStatus(r.Context(), key)
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		resp := lockStatusResponse{
			Held: status.Held,
		}
		if status.Held {
			resp.HolderID = status.HolderID
			resp.ExpiresAt = status.ExpiresAt.UnixMilli()
		}
		writeJSON(w, resp)
	}
}

func HandleRenewLock(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, callerID, ok := decodeLockRequest(w, r)
		if !ok {
			return
		}

		key := objects.Key{WorldID: req.WorldID, ObjectID: req.ObjectID}
		expiresAt, err := gw.RenewLock(r.Context(), key, callerID, req.LockToken)
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		writeJSON(w, renewResponse{ExpiresAt: expiresAt.UnixMilli()})
	}
}

func HandleReleaseLock(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, callerID, ok := decodeLockRequest(w, r)
		if !ok {
			return
		}

		key := objects.Key{WorldID: req.WorldID, ObjectID: req.ObjectID}
		if err := gw.ReleaseLock(r.Context(), key, callerID, req.LockToken); err != nil {
			writeGatewayError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func keyFromQuery(w http.ResponseWriter, r *http.Request) (objects.Key, bool) {
	worldID := r.URL.Query().Get("worldId")
	objectID := r.URL.Query().Get("objectId")
	if worldID == "" || objectID == "" {
		http.Error(w, "worldId and objectId are required", http.StatusBadRequest)
		return objects.Key{}, false
	}
	return objects.Key{WorldID: worldID, ObjectID: objectID}, true
}

// callerFromRequest resolves the authenticated caller and checks it
// matches the callerId named in the request.
func callerFromRequest(w http.ResponseWriter, r *http.Request, requestCallerID string) (string, bool) {
	callerID, ok := r.Context().Value(middleware.CallerContextKey).(string)
	if !ok {
		log.Error("failed to get caller from context")
		http.Error(w, "Failed to get caller from context", http.StatusInternalServerError)
		return "", false
	}
	if requestCallerID == "" {
		http.Error(w, "callerId is required", http.StatusBadRequest)
		return "", false
	}
	if requestCallerID != callerID {
		http.Error(w, "callerId does not match authenticated caller", http.StatusForbidden)
		return "", false
	}
	return callerID, true
}

func decodeLockRequest(w http.ResponseWriter, r *http.Request) (*lockRequest, string, bool) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Failed to decode request body", http.StatusBadRequest)
		return nil, "", false
	}
	if req.WorldID == "" || req.ObjectID == "" {
		http.Error(w, "worldId and objectId are required", http.StatusBadRequest)
		return nil, "", false
	}
	callerID, ok := callerFromRequest(w, r, req.CallerID)
	if !ok {
		return nil, "", false
	}
	return &req, callerID, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeGatewayError maps the gateway's error taxonomy onto HTTP statuses.
// Forbidden, Locked, and Conflict are expected caller-recoverable
// outcomes; anything else is a storage failure.
func writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case access.IsForbidden(err):
		http.Error(w, "forbidden", http.StatusForbidden)
	case lease.IsLocked(err):
		http.Error(w, "locked", http.StatusLocked)
	case gateway.IsConflict(err):
		http.Error(w, "conflict", http.StatusConflict)
	case objects.IsUnknownClass(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error("storage failure: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
