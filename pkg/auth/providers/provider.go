package providers

import "context"

// AuthProvider resolves a bearer token to the guest identity behind it.
// Identity issuance and account linking happen outside this service.
type AuthProvider interface {
	VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error)
}

type TokenClaims struct {
	UID string `json:"uid"`
}
