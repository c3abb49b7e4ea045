// Package credentials persists per-user, per-provider access and refresh tokens.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes the two token rows kept for a grant.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Valid reports whether k is one of the known token kinds.
func (k Kind) Valid() bool {
	return k == KindAccess || k == KindRefresh
}

var (
	// ErrNotFound is returned when no credential exists for a key.
	ErrNotFound = errors.New("credential not found")
	// ErrInvalidCredential is returned when a credential is missing a required field.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Key identifies one credential row.
type Key struct {
	UserID   string
	Provider string
	Kind     Kind
}

func (k Key) String() string {
	return k.UserID + "/" + k.Provider + "/" + string(k.Kind)
}

// Precision is the timestamp resolution every Store backend round-trips.
// Postgres timestamptz is the coarsest of them.
const Precision = time.Microsecond

// Timestamp returns t in UTC truncated to Precision.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// Credential is a stored token. A nil ExpiresAt never expires.
type Credential struct {
	UserID    string
	Provider  string
	Kind      Kind
	Value     string
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

func (c Credential) Key() Key {
	return Key{UserID: c.UserID, Provider: c.Provider, Kind: c.Kind}
}

// ExpiredAt reports whether c is expired at now. Expiry is inclusive: a
// credential expiring exactly at now is already invalid.
func (c Credential) ExpiredAt(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(*c.ExpiresAt)
}

// Validate checks required-field presence only.
func (c Credential) Validate() error {
	if err := c.Key().Validate(); err != nil {
		return err
	}
	if c.Value == "" {
		return fmt.Errorf("%w: token value is required", ErrInvalidCredential)
	}
	return nil
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidCredential)
	}
	if strings.TrimSpace(k.Provider) == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidCredential)
	}
	if !k.Kind.Valid() {
		return fmt.Errorf("%w: unknown token kind %q", ErrInvalidCredential, k.Kind)
	}
	return nil
}

// Store is durable credential persistence. Put replaces a row in full and
// PutAll commits a batch atomically: readers see all of it or none of it.
type Store interface {
	Get(ctx context.Context, key Key) (Credential, error)
	Put(ctx context.Context, cred Credential) error
	PutAll(ctx context.Context, creds ...Credential) error
	Exists(ctx context.Context, key Key) (bool, error)
}

// StorageError reports that the backing store failed. It is fatal for the
// current call and never retried automatically.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("credential store %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidateBatch validates every credential and rejects duplicate keys.
func ValidateBatch(creds []Credential) error {
	seen := make(map[Key]struct{}, len(creds))
	var errs []error
	for _, cred := range creds {
		if err := cred.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[cred.Key()]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate key %s in batch", ErrInvalidCredential, cred.Key()))
			continue
		}
		seen[cred.Key()] = struct{}{}
	}
	return errors.Join(errs...)
}
