package credentials

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps credentials in process memory. Suitable for tests and
// single-process local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[Key]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[Key]Credential)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Credential, error) {
	if err := key.Validate(); err != nil {
		return Credential{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.rows[key]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cloneCredential(cred), nil
}

func (s *MemoryStore) Put(ctx context.Context, cred Credential) error {
	return s.PutAll(ctx, cred)
}

func (s *MemoryStore) PutAll(_ context.Context, creds ...Credential) error {
	if err := ValidateBatch(creds); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cred := range creds {
		s.rows[cred.Key()] = cloneCredential(cred)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[key]
	return ok, nil
}

func cloneCredential(c Credential) Credential {
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		c.ExpiresAt = &exp
	}
	return c
}

// TimePtr returns a pointer to t in UTC.
func TimePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
