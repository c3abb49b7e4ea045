package pending

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = time.Minute

// MemoryStore keeps pending authorizations in a go-cache instance. It is
// process-local.
type MemoryStore struct {
	mu      sync.Mutex
	byNonce *gocache.Cache
	markers *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byNonce: gocache.New(gocache.NoExpiration, memoryCleanupInterval),
		markers: gocache.New(gocache.NoExpiration, memoryCleanupInterval),
	}
}

func (s *MemoryStore) Put(_ context.Context, a Authorization, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byNonce.Set(a.Nonce, a, ttl)
	s.markers.Set(markerKey(a.UserID, a.Connector), a.Nonce, ttl)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, nonce string) (Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byNonce.Get(nonce)
	if !ok {
		return Authorization{}, ErrNotFound
	}
	s.byNonce.Delete(nonce)
	a := v.(Authorization)

	key := markerKey(a.UserID, a.Connector)
	if current, ok := s.markers.Get(key); ok && current.(string) == nonce {
		s.markers.Delete(key)
	}
	return a, nil
}

func (s *MemoryStore) Pending(_ context.Context, userID, connector string) (bool, error) {
	_, ok := s.markers.Get(markerKey(userID, connector))
	return ok, nil
}
