package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Keyer derives cache keys from credentials.
//
// Contract:
// - Determinism: the same namespace and token always produce the same key.
// - Secrecy: keys must not contain or reveal the token.
type Keyer interface {
	Key(namespace, token string) (string, error)
}

// TokenKeyer derives SHA-256 based keys.
type TokenKeyer struct{}

// NewTokenKeyer creates a new token keyer.
func NewTokenKeyer() *TokenKeyer {
	return &TokenKeyer{}
}

// Key returns "claims:<namespace>:<hex sha256(token)>".
func (k *TokenKeyer) Key(namespace, token string) (string, error) {
	if token == "" {
		return "", errors.New("cache: token is empty")
	}
	sum := sha256.Sum256([]byte(token))
	key := "claims:" + namespace + ":" + hex.EncodeToString(sum[:])
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// Ensure TokenKeyer implements Keyer
var _ Keyer = (*TokenKeyer)(nil)
