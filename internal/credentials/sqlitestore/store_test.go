package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goldilockshq/connector-hub/internal/credentials"
	"github.com/goldilockshq/connector-hub/internal/credentials/credentialstest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "credentials.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	credentialstest.RunStoreTests(t, func(t *testing.T) credentials.Store {
		return openTestStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReopenKeepsCredentials(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	issued := time.Date(2026, 2, 2, 8, 30, 0, 0, time.UTC)
	cred := credentials.Credential{UserID: "u", Provider: "docs", Kind: credentials.KindRefresh, Value: "r", IssuedAt: issued}
	if err := store.Put(context.Background(), cred); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() again error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), cred.Key())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Value != "r" || !got.IssuedAt.Equal(issued) {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestClosedStoreReturnsStorageError(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "credentials.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = store.Close()

	_, err = store.Get(context.Background(), credentials.Key{UserID: "u", Provider: "docs", Kind: credentials.KindAccess})
	var se *credentials.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Get() error = %v, want StorageError", err)
	}
}
