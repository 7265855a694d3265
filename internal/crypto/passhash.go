// Package crypto implements credential hashing and key generation for the session store.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewCredential draws a fresh salt and hashes password with it.
func NewCredential(password string) (salt, hash []byte, err error) {
	if password == "" {
		return nil, nil, errors.New("empty password")
	}
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, fmt.Errorf("salt: %w", err)
	}
	return salt, HashPassword([]byte(password), salt), nil
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	if len(salt) == 0 || len(expected) == 0 {
		return false
	}
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// NewSigningKey returns a random hex-encoded key of length hex characters,
// suitable as an HS256 session signing secret.
func NewSigningKey(length int) (string, error) {
	if length <= 0 || length%2 != 0 {
		return "", fmt.Errorf("signing key length must be positive and even, got %d", length)
	}
	b, err := RandBytes(length / 2)
	if err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
