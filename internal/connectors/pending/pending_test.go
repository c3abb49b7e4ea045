package pending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testTTL = 50 * time.Millisecond

// storeFactory returns a fresh store and a function that moves its clock past
// testTTL.
type storeFactory func(t *testing.T) (Store, func())

func memoryFactory(t *testing.T) (Store, func()) {
	return NewMemoryStore(), func() { time.Sleep(2 * testTTL) }
}

func redisFactory(t *testing.T) (Store, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), func() { mr.FastForward(2 * testTTL) }
}

func runStoreTests(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	auth := Authorization{Nonce: "n1", UserID: "u1", Connector: "sheets", CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	t.Run("take once", func(t *testing.T) {
		store, _ := newStore(t)
		if err := store.Put(ctx, auth, time.Minute); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		pending, err := store.Pending(ctx, "u1", "sheets")
		if err != nil || !pending {
			t.Fatalf("Pending() = %v, %v, want true", pending, err)
		}

		got, err := store.Take(ctx, "n1")
		if err != nil {
			t.Fatalf("Take() error = %v", err)
		}
		if got.UserID != "u1" || got.Connector != "sheets" || !got.CreatedAt.Equal(auth.CreatedAt) {
			t.Fatalf("Take() = %+v", got)
		}
		if _, err := store.Take(ctx, "n1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second Take() error = %v, want ErrNotFound", err)
		}
		if pending, _ := store.Pending(ctx, "u1", "sheets"); pending {
			t.Fatal("Pending() still true after Take")
		}
	})

	t.Run("expires", func(t *testing.T) {
		store, advance := newStore(t)
		if err := store.Put(ctx, auth, testTTL); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		advance()
		if _, err := store.Take(ctx, "n1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Take() after ttl error = %v, want ErrNotFound", err)
		}
		if pending, _ := store.Pending(ctx, "u1", "sheets"); pending {
			t.Fatal("Pending() true after ttl")
		}
	})

	t.Run("newer attempt keeps marker", func(t *testing.T) {
		store, _ := newStore(t)
		second := auth
		second.Nonce = "n2"
		if err := store.Put(ctx, auth, time.Minute); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Put(ctx, second, time.Minute); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if _, err := store.Take(ctx, "n1"); err != nil {
			t.Fatalf("Take(n1) error = %v", err)
		}
		if pending, _ := store.Pending(ctx, "u1", "sheets"); !pending {
			t.Fatal("Pending() false while n2 is outstanding")
		}
	})

	t.Run("concurrent take succeeds once", func(t *testing.T) {
		store, _ := newStore(t)
		if err := store.Put(ctx, auth, time.Minute); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Take(ctx, "n1"); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if successes != 1 {
			t.Fatalf("successful takes = %d, want 1", successes)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, memoryFactory)
}

func TestRedisStore(t *testing.T) {
	runStoreTests(t, redisFactory)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("OpenRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := OpenRedis(context.Background(), "://bad"); err == nil {
		t.Fatal("expected parse error")
	}
}
