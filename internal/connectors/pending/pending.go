// Package pending tracks authorizations that were started but not completed.
// Entries are short-lived and may be lost on restart; a lost entry only means
// the user has to start the connect flow again.
package pending

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound means the nonce is unknown, expired or already used.
var ErrNotFound = errors.New("pending authorization not found")

// Authorization is one in-flight connect attempt.
type Authorization struct {
	Nonce     string    `json:"nonce"`
	UserID    string    `json:"user_id"`
	Connector string    `json:"connector"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds pending authorizations under a TTL. Take consumes a nonce: a
// second Take of the same nonce returns ErrNotFound.
type Store interface {
	Put(ctx context.Context, a Authorization, ttl time.Duration) error
	Take(ctx context.Context, nonce string) (Authorization, error)
	Pending(ctx context.Context, userID, connector string) (bool, error)
}

func markerKey(userID, connector string) string {
	return userID + "\x00" + strings.ToLower(connector)
}
