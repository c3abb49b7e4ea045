// Package auth hashes and verifies the API keys that callers present to the
// HTTP surface.
package auth

import (
	"crypto/rand"
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"
)

const apiKeyPrefix = "chk_"

var ErrInvalidAPIKey = errors.New("invalid api key")

var DefaultKeyParams = &argon2id.Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func HashAPIKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrInvalidAPIKey
	}
	return argon2id.CreateHash(key, DefaultKeyParams)
}

func CompareAPIKey(key, hash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(key, hash)
}

// GenerateAPIKey returns a new random key with the "chk_" prefix.
func GenerateAPIKey(length int) (string, error) {
	if length < 24 {
		return "", errors.New("api key length too short")
	}
	const alphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	const alphabetLen = byte(len(alphabet))
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = alphabet[b[i]%alphabetLen]
	}
	return apiKeyPrefix + string(b), nil
}
