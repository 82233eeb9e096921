package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/lensfusion/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() (auth.JWTConfig, error) {
	secret, err := DecodeSecret(c.JWT.Secret)
	if err != nil {
		return auth.JWTConfig{}, fmt.Errorf("auth.jwt.secret: %w", err)
	}

	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         string(secret),
		Issuer:         strings.TrimSpace(c.JWT.Issuer),
		Audience:       strings.TrimSpace(c.JWT.Audience),
		AccessTokenTTL: ttl,
	}, nil
}
