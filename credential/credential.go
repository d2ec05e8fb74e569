// Package credential generates agent API keys and handles their at-rest hashing.
//
// Keys are never stored in plaintext. Because each hash carries its own random
// salt, a presented key cannot be looked up by index; callers must compare it
// against stored hashes one at a time.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix is the literal tag every LAMMAC API key starts with.
const KeyPrefix = "lammac_"

// HashCost is the bcrypt work factor used for stored key hashes.
const HashCost = 10

const keyBytes = 32

// GenerateAPIKey returns a new opaque API key: KeyPrefix followed by 256 bits
// of crypto/rand output, hex encoded.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey returns a salted bcrypt hash of key. Two calls with the same key
// produce different hashes.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), HashCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(h), nil
}

// VerifyAPIKey reports whether key matches the stored hash. Malformed hashes
// simply fail to match.
func VerifyAPIKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// HasKeyPrefix reports whether key is shaped like a LAMMAC API key.
func HasKeyPrefix(key string) bool {
	return strings.HasPrefix(key, KeyPrefix)
}
