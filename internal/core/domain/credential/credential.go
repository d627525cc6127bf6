// Package credential defines the API-key format used on the ingest path and
// the lookup contract against the external credential master store.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// KeyPrefix is the literal prefix every ingest API key carries.
const KeyPrefix = "evp_"

// secretBytes is the number of random bytes base64url-encoded after the prefix.
const secretBytes = 32

// ErrMalformedKey is returned when a presented key does not match the
// expected evp_<base64url> shape.
var ErrMalformedKey = errors.New("credential: malformed api key")

// Credential is the record returned by a successful CredentialStore lookup.
type Credential struct {
	UserID    string
	Role      string
	RevokedAt *time.Time
	ExpiresAt *time.Time
}

// Revoked reports whether the credential has been explicitly revoked.
func (c Credential) Revoked() bool {
	return c.RevokedAt != nil && !c.RevokedAt.IsZero()
}

// Expired reports whether the credential's expiry has passed as of now.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.IsZero() && now.After(*c.ExpiresAt)
}

// Store is the external master data store for API-key credentials.
// Out of scope for this system beyond this lookup contract.
type Store interface {
	LookupByHash(ctx context.Context, apiKeyHash string) (Credential, error)
}

// ErrNotFound is returned by a Store when the hash has no matching credential.
var ErrNotFound = errors.New("credential: not found")

// Generate produces a new raw API key in the evp_<base64url> format.
func Generate() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the SHA-256 hex digest of a raw API key, the value stored
// and looked up in the credential master store.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// ValidateFormat checks that a presented key has the expected shape without
// consulting the store.
func ValidateFormat(rawKey string) error {
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return ErrMalformedKey
	}
	secret := strings.TrimPrefix(rawKey, KeyPrefix)
	if len(secret) == 0 {
		return ErrMalformedKey
	}
	if _, err := base64.RawURLEncoding.DecodeString(secret); err != nil {
		return ErrMalformedKey
	}
	return nil
}
