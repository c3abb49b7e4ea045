// Package pgstore is the Postgres-backed credentials.Store.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/goldilockshq/connector-hub/internal/credentials"
	"github.com/goldilockshq/connector-hub/internal/db/gen"
	"github.com/goldilockshq/connector-hub/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const backendName = "postgres"

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	gen.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db DB
	q  *gen.Queries
}

func New(db DB) *Store {
	return &Store{db: db, q: gen.New(db)}
}

// Ping checks the connection when db can be pinged; *pgxpool.Pool can.
func (s *Store) Ping(ctx context.Context) error {
	p, ok := s.db.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return storageError("ping", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key credentials.Key) (credentials.Credential, error) {
	if err := key.Validate(); err != nil {
		return credentials.Credential{}, err
	}
	row, err := s.q.GetCredential(ctx, gen.GetCredentialParams{
		UserID:    key.UserID,
		Provider:  key.Provider,
		TokenKind: string(key.Kind),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credentials.Credential{}, credentials.ErrNotFound
		}
		return credentials.Credential{}, storageError("get", err)
	}
	return fromRow(row), nil
}

func (s *Store) Put(ctx context.Context, cred credentials.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	if err := s.q.UpsertCredential(ctx, toParams(cred)); err != nil {
		return storageError("put", err)
	}
	return nil
}

// PutAll upserts every credential inside one transaction.
func (s *Store) PutAll(ctx context.Context, creds ...credentials.Credential) error {
	if err := credentials.ValidateBatch(creds); err != nil {
		return err
	}
	if len(creds) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storageError("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	qtx := s.q.WithTx(tx)
	for _, cred := range creds {
		if err := qtx.UpsertCredential(ctx, toParams(cred)); err != nil {
			return storageError("put", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storageError("commit", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key credentials.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	ok, err := s.q.CredentialExists(ctx, gen.CredentialExistsParams{
		UserID:    key.UserID,
		Provider:  key.Provider,
		TokenKind: string(key.Kind),
	})
	if err != nil {
		return false, storageError("exists", err)
	}
	return ok, nil
}

func toParams(c credentials.Credential) gen.UpsertCredentialParams {
	return gen.UpsertCredentialParams{
		UserID:     c.UserID,
		Provider:   c.Provider,
		TokenKind:  string(c.Kind),
		TokenValue: c.Value,
		IssuedAt:   pgtype.Timestamptz{Time: c.IssuedAt.UTC(), Valid: true},
		ExpiresAt:  timestamptz(c.ExpiresAt),
	}
}

func fromRow(row gen.Credential) credentials.Credential {
	cred := credentials.Credential{
		UserID:   row.UserID,
		Provider: row.Provider,
		Kind:     credentials.Kind(row.TokenKind),
		Value:    row.TokenValue,
		IssuedAt: row.IssuedAt.Time.UTC(),
	}
	if row.ExpiresAt.Valid {
		cred.ExpiresAt = credentials.TimePtr(row.ExpiresAt.Time)
	}
	return cred
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func storageError(op string, err error) error {
	metrics.CredentialStoreErrorsTotal.WithLabelValues(backendName, op).Inc()
	return &credentials.StorageError{Backend: backendName, Op: op, Err: err}
}
