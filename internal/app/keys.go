package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	base64Prefix = "base64:"
	hexPrefix    = "hex:"
)

// DecodeSecret returns the raw bytes of a configured secret. Values prefixed
// with "base64:" or "hex:" are decoded, anything else is used verbatim.
func DecodeSecret(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("secret value is empty")
	}

	switch {
	case strings.HasPrefix(v, base64Prefix):
		raw := strings.TrimPrefix(v, base64Prefix)
		// Support both standard and raw base64 encodings
		if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
			return decoded, nil
		}
		decoded, err := base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode base64 secret: %w", err)
		}
		return decoded, nil
	case strings.HasPrefix(v, hexPrefix):
		decoded, err := hex.DecodeString(strings.TrimPrefix(v, hexPrefix))
		if err != nil {
			return nil, fmt.Errorf("decode hex secret: %w", err)
		}
		return decoded, nil
	default:
		return []byte(v), nil
	}
}

// SecretByteLength returns the decoded byte length of a secret, or 0 when unset.
func SecretByteLength(value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	decoded, err := DecodeSecret(value)
	if err != nil {
		return 0, err
	}
	return len(decoded), nil
}
