// Package auth authenticates administrators by API key and shoppers by
// bearer token.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to administrator API keys.
const (
	ScopeCouponsRead  = "coupons:read"
	ScopeCouponsWrite = "coupons:write"
)

// ErrUnknownKey is returned by Repository when no active key has the hash.
var ErrUnknownKey = errors.New("unknown api key")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope. The write scope implies
// the read scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	if slices.Contains(k.Scopes, scope) {
		return true
	}
	return scope == ScopeCouponsRead && slices.Contains(k.Scopes, ScopeCouponsWrite)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
