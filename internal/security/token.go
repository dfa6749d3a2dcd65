package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenEntropyBytes = 32

// NewToken returns a URL-safe opaque token with 32 bytes of entropy.
func NewToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewTokenPair returns two independently random access/refresh tokens.
func NewTokenPair() (access, refresh string, err error) {
	if access, err = NewToken(); err != nil {
		return "", "", err
	}
	if refresh, err = NewToken(); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
