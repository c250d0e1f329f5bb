// Package crypto implements server-side password hashing and verification for
// account and group passwords.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
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

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// NewSecret generates a fresh salt and hashes password with it.
func NewSecret(password string) (hash, salt []byte, err error) {
	salt, err = RandBytes(saltLen)
	if err != nil {
		return nil, nil, err
	}
	return HashPassword([]byte(password), salt), salt, nil
}

// NewOptionalSecret is NewSecret for group passwords: an empty password
// yields an empty hash, meaning the group is open.
func NewOptionalSecret(password string) (hash, salt []byte, err error) {
	if password == "" {
		return []byte{}, []byte{}, nil
	}
	return NewSecret(password)
}

// VerifyOptional checks a group password. An empty stored hash accepts any input.
func VerifyOptional(password string, salt, expected []byte) bool {
	if len(expected) == 0 {
		return true
	}
	return VerifyPassword([]byte(password), salt, expected)
}
