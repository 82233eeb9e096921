package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/lensfusion/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills settings a development instance can start
// without. It returns which keys were generated so callers can log the event
// without exposing values. A generated JWT secret only validates tokens issued
// by this process, so production deployments must share the identity
// provider's secret.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	if strings.TrimSpace(cfg.Store.Driver) == "" {
		cfg.Store.Driver = StoreSQL
		generated["store.driver"] = true
	}

	return generated, nil
}
