package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	gocache "github.com/patrickmn/go-cache"
)

const (
	verifiedKeyTTL     = 5 * time.Minute
	verifiedKeyCleanup = 10 * time.Minute
)

// Keyring checks presented keys against a fixed set of argon2id hashes.
// Successful verifications are remembered by key digest for a few minutes so
// that steady traffic does not pay the argon2 cost on every request.
type Keyring struct {
	hashes   []string
	verified *gocache.Cache
}

func NewKeyring(hashes []string) (*Keyring, error) {
	k := &Keyring{verified: gocache.New(verifiedKeyTTL, verifiedKeyCleanup)}
	for i, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, _, _, err := argon2id.DecodeHash(h); err != nil {
			return nil, fmt.Errorf("api key hash %d: %w", i, err)
		}
		k.hashes = append(k.hashes, h)
	}
	return k, nil
}

// Empty reports whether no hashes are configured. An empty keyring rejects
// every key.
func (k *Keyring) Empty() bool {
	return len(k.hashes) == 0
}

// Verify reports whether key matches one of the configured hashes.
func (k *Keyring) Verify(key string) (bool, error) {
	if key == "" || k.Empty() {
		return false, nil
	}
	digest := keyDigest(key)
	if _, ok := k.verified.Get(digest); ok {
		return true, nil
	}
	for _, h := range k.hashes {
		match, err := CompareAPIKey(key, h)
		if err != nil {
			return false, err
		}
		if match {
			k.verified.SetDefault(digest, struct{}{})
			return true, nil
		}
	}
	return false, nil
}

func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
