// Package sqlitestore is an embedded SQLite credentials.Store for single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goldilockshq/connector-hub/internal/credentials"
	"github.com/goldilockshq/connector-hub/internal/metrics"
	_ "modernc.org/sqlite"
)

const backendName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    user_id     TEXT    NOT NULL,
    provider    TEXT    NOT NULL,
    token_kind  TEXT    NOT NULL CHECK (token_kind IN ('access', 'refresh')),
    token_value TEXT    NOT NULL,
    issued_at   INTEGER NOT NULL,
    expires_at  INTEGER,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (user_id, provider, token_kind)
);`

const upsertSQL = `
INSERT INTO credentials (user_id, provider, token_kind, token_value, issued_at, expires_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, provider, token_kind) DO UPDATE SET
    token_value = excluded.token_value,
    issued_at   = excluded.issued_at,
    expires_at  = excluded.expires_at,
    updated_at  = excluded.updated_at`

// Store persists credentials in SQLite. Timestamps are unix microseconds.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageError("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key credentials.Key) (credentials.Credential, error) {
	if err := key.Validate(); err != nil {
		return credentials.Credential{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT token_value, issued_at, expires_at FROM credentials WHERE user_id = ? AND provider = ? AND token_kind = ?`,
		key.UserID, key.Provider, string(key.Kind))

	var (
		value     string
		issuedAt  int64
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&value, &issuedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return credentials.Credential{}, credentials.ErrNotFound
		}
		return credentials.Credential{}, storageError("get", err)
	}

	cred := credentials.Credential{
		UserID:   key.UserID,
		Provider: key.Provider,
		Kind:     key.Kind,
		Value:    value,
		IssuedAt: fromMicros(issuedAt),
	}
	if expiresAt.Valid {
		cred.ExpiresAt = credentials.TimePtr(fromMicros(expiresAt.Int64))
	}
	return cred, nil
}

func (s *Store) Put(ctx context.Context, cred credentials.Credential) error {
	return s.PutAll(ctx, cred)
}

func (s *Store) PutAll(ctx context.Context, creds ...credentials.Credential) error {
	if err := credentials.ValidateBatch(creds); err != nil {
		return err
	}
	if len(creds) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	updatedAt := s.now().UTC().UnixMicro()
	for _, cred := range creds {
		var expiresAt sql.NullInt64
		if cred.ExpiresAt != nil {
			expiresAt = sql.NullInt64{Int64: cred.ExpiresAt.UTC().UnixMicro(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, upsertSQL,
			cred.UserID, cred.Provider, string(cred.Kind), cred.Value,
			cred.IssuedAt.UTC().UnixMicro(), expiresAt, updatedAt,
		); err != nil {
			return storageError("put", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageError("commit", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key credentials.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE user_id = ? AND provider = ? AND token_kind = ?)`,
		key.UserID, key.Provider, string(key.Kind)).Scan(&ok)
	if err != nil {
		return false, storageError("exists", err)
	}
	return ok, nil
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func storageError(op string, err error) error {
	metrics.CredentialStoreErrorsTotal.WithLabelValues(backendName, op).Inc()
	return &credentials.StorageError{Backend: backendName, Op: op, Err: err}
}
