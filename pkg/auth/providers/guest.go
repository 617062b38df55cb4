package providers

import (
	"context"
	"fmt"
)

var _ AuthProvider = &GuestAuthProvider{}

// GuestAuthProvider treats the bearer token itself as the guest ID.
// For local development and tests only; it performs no verification.
type GuestAuthProvider struct {
}

func (p *GuestAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	if idToken == "" {
		return nil, fmt.Errorf("empty token")
	}
	return &TokenClaims{
		UID: idToken,
	}, nil
}
