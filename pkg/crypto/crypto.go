package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("crypto: token length must be positive")
	}
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// Digest returns the hex encoded BLAKE2b-256 digest of the supplied parts.
// Parts are length-prefixed so ("ab","c") and ("a","bc") never collide.
func Digest(parts ...string) string {
	h, _ := blake2b.New256(nil) // only errors for oversized keys
	var prefix [8]byte
	for _, part := range parts {
		n := uint64(len(part))
		for i := 0; i < 8; i++ {
			prefix[i] = byte(n >> (8 * i))
		}
		_, _ = h.Write(prefix[:])
		_, _ = h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
