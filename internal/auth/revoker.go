package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charlesng35/lensfusion/internal/cache"
)

const denylistPrefix = "auth:denylist:"

// minimumDenyTTL keeps a denylist entry alive for tokens that are about to
// expire anyway.
const minimumDenyTTL = time.Second

// Revoker maintains the sign-out denylist. Entries live in the shared cache
// until the token would have expired on its own.
type Revoker struct {
	store cache.Store
	now   func() time.Time
}

// NewRevoker builds a Revoker on top of store.
func NewRevoker(store cache.Store, clock func() time.Time) (*Revoker, error) {
	if store == nil {
		return nil, errors.New("auth: revoker requires a cache store")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Revoker{store: store, now: clock}, nil
}

// Revoke denylists the token identified by tokenID until expiresAt.
func (r *Revoker) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return errors.New("auth: token id is required")
	}
	ttl := expiresAt.Sub(r.now())
	if ttl < minimumDenyTTL {
		ttl = minimumDenyTTL
	}
	if err := r.store.Set(ctx, denylistPrefix+tokenID, []byte("1"), ttl); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID has been signed out.
func (r *Revoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	_, ok, err := r.store.Get(ctx, denylistPrefix+tokenID)
	if err != nil {
		return false, fmt.Errorf("auth: check denylist: %w", err)
	}
	return ok, nil
}
