package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoPrincipal is returned when the context carries no authenticated user.
	ErrNoPrincipal = errors.New("auth: no authenticated principal")
	// ErrNotRevocable is returned by SignOut for tokens that carry no id and
	// therefore stay valid until they expire.
	ErrNotRevocable = errors.New("auth: token has no id and cannot be revoked")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the principal placed by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}

// PrincipalFromClaims builds a principal from validated token claims.
func PrincipalFromClaims(claims *Claims) Principal {
	p := Principal{UserID: claims.UserID, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}

// Provider is the identity provider consumed by the session handlers.
type Provider struct {
	revoker *Revoker
}

// NewProvider constructs a Provider that signs out through revoker.
func NewProvider(revoker *Revoker) *Provider {
	return &Provider{revoker: revoker}
}

// CurrentUserID returns the id of the authenticated user in ctx.
func (p *Provider) CurrentUserID(ctx context.Context) (string, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", ErrNoPrincipal
	}
	return principal.UserID, nil
}

// SignOut invalidates the token that authenticated ctx. Tokens without an id
// cannot be denylisted; they report ErrNotRevocable and are left to expire.
func (p *Provider) SignOut(ctx context.Context) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return ErrNoPrincipal
	}
	if principal.TokenID == "" || p.revoker == nil {
		return ErrNotRevocable
	}
	return p.revoker.Revoke(ctx, principal.TokenID, principal.ExpiresAt)
}
