// Package credentialstest holds a behavioral test suite shared by every
// credentials.Store backend.
package credentialstest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goldilockshq/connector-hub/internal/credentials"
)

// RunStoreTests exercises the Store contract against stores built by newStore.
// Each subtest gets a fresh store.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) credentials.Store) {
	t.Helper()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := issued.Add(time.Hour)

	t.Run("round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		want := credentials.Credential{
			UserID: "user-1", Provider: "sheets", Kind: credentials.KindAccess,
			Value: "access-1", IssuedAt: issued, ExpiresAt: &expires,
		}
		if err := store.Put(ctx, want); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := store.Get(ctx, want.Key())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		assertEqual(t, got, want)
	})

	t.Run("sub-millisecond timestamps round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		fine := credentials.Timestamp(issued.Add(123456789 * time.Nanosecond))
		fineExpiry := fine.Add(time.Hour + 987*time.Microsecond)
		want := credentials.Credential{
			UserID: "user-1", Provider: "sheets", Kind: credentials.KindAccess,
			Value: "access-fine", IssuedAt: fine, ExpiresAt: &fineExpiry,
		}
		if fine.Nanosecond() != 123456000 {
			t.Fatalf("Timestamp() = %s, want microsecond truncation", fine)
		}
		if err := store.Put(ctx, want); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := store.Get(ctx, want.Key())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		assertEqual(t, got, want)
	})

	t.Run("nil expiry survives", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		want := credentials.Credential{
			UserID: "user-1", Provider: "plaid", Kind: credentials.KindAccess,
			Value: "access-sandbox", IssuedAt: issued,
		}
		if err := store.Put(ctx, want); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := store.Get(ctx, want.Key())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ExpiresAt != nil {
			t.Fatalf("ExpiresAt = %v, want nil", got.ExpiresAt)
		}
	})

	t.Run("put replaces in full", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		first := credentials.Credential{
			UserID: "user-1", Provider: "sheets", Kind: credentials.KindAccess,
			Value: "access-1", IssuedAt: issued, ExpiresAt: &expires,
		}
		second := credentials.Credential{
			UserID: "user-1", Provider: "sheets", Kind: credentials.KindAccess,
			Value: "access-2", IssuedAt: issued.Add(time.Minute),
		}
		if err := store.Put(ctx, first); err != nil {
			t.Fatalf("Put(first) error = %v", err)
		}
		if err := store.Put(ctx, second); err != nil {
			t.Fatalf("Put(second) error = %v", err)
		}
		if err := store.Put(ctx, second); err != nil {
			t.Fatalf("Put(second) again error = %v", err)
		}
		got, err := store.Get(ctx, first.Key())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		assertEqual(t, got, second)
	})

	t.Run("missing key", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := credentials.Key{UserID: "nobody", Provider: "sheets", Kind: credentials.KindRefresh}
		if _, err := store.Get(ctx, key); !errors.Is(err, credentials.ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
		ok, err := store.Exists(ctx, key)
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if ok {
			t.Fatal("Exists() = true, want false")
		}
	})

	t.Run("put all writes both kinds", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		access := credentials.Credential{
			UserID: "user-2", Provider: "docs", Kind: credentials.KindAccess,
			Value: "a", IssuedAt: issued, ExpiresAt: &expires,
		}
		refresh := credentials.Credential{
			UserID: "user-2", Provider: "docs", Kind: credentials.KindRefresh,
			Value: "r", IssuedAt: issued,
		}
		if err := store.PutAll(ctx, access, refresh); err != nil {
			t.Fatalf("PutAll() error = %v", err)
		}
		for _, want := range []credentials.Credential{access, refresh} {
			ok, err := store.Exists(ctx, want.Key())
			if err != nil || !ok {
				t.Fatalf("Exists(%s) = %v, %v; want true", want.Key(), ok, err)
			}
			got, err := store.Get(ctx, want.Key())
			if err != nil {
				t.Fatalf("Get(%s) error = %v", want.Key(), err)
			}
			assertEqual(t, got, want)
		}
	})

	t.Run("put all rejects invalid batch", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		good := credentials.Credential{
			UserID: "user-3", Provider: "docs", Kind: credentials.KindAccess,
			Value: "a", IssuedAt: issued,
		}
		bad := credentials.Credential{
			UserID: "user-3", Provider: "docs", Kind: credentials.KindRefresh,
			IssuedAt: issued,
		}
		err := store.PutAll(ctx, good, bad)
		if !errors.Is(err, credentials.ErrInvalidCredential) {
			t.Fatalf("PutAll() error = %v, want ErrInvalidCredential", err)
		}
		if ok, _ := store.Exists(ctx, good.Key()); ok {
			t.Fatal("valid half of a rejected batch was written")
		}
	})
}

func assertEqual(t *testing.T, got, want credentials.Credential) {
	t.Helper()
	if got.UserID != want.UserID || got.Provider != want.Provider || got.Kind != want.Kind {
		t.Fatalf("key = %s, want %s", got.Key(), want.Key())
	}
	if got.Value != want.Value {
		t.Fatalf("Value = %q, want %q", got.Value, want.Value)
	}
	if !got.IssuedAt.Equal(want.IssuedAt) {
		t.Fatalf("IssuedAt = %s, want %s", got.IssuedAt, want.IssuedAt)
	}
	switch {
	case want.ExpiresAt == nil && got.ExpiresAt != nil:
		t.Fatalf("ExpiresAt = %s, want nil", got.ExpiresAt)
	case want.ExpiresAt != nil && got.ExpiresAt == nil:
		t.Fatalf("ExpiresAt = nil, want %s", want.ExpiresAt)
	case want.ExpiresAt != nil && !got.ExpiresAt.Equal(*want.ExpiresAt):
		t.Fatalf("ExpiresAt = %s, want %s", got.ExpiresAt, want.ExpiresAt)
	}
}
