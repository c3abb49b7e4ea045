// Package vaultstore keeps credentials in a HashiCorp Vault KV v2 mount.
//
// Each (user, provider) grant is one secret holding both token kinds, so a
// refresh that rewrites access and refresh tokens is a single versioned write.
// Writes use check-and-set against the version that was read.
package vaultstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/goldilockshq/connector-hub/internal/credentials"
	"github.com/goldilockshq/connector-hub/internal/metrics"
)

const (
	backendName = "vault"

	authTypeToken   = "token"
	authTypeAppRole = "approle"

	defaultMount      = "secret"
	defaultPrefix     = "connector-hub/credentials"
	maxCASAttempts    = 3
	fieldValue        = "value"
	fieldIssuedAt     = "issued_at"
	fieldExpiresAt    = "expires_at"
	casMismatchSubstr = "check-and-set"
)

type Options struct {
	Address          string
	Namespace        string
	Token            string
	AppRoleMountPath string
	AppRoleRoleID    string
	AppRoleSecretID  string
	TLSSkipVerify    bool
	TLSCACertPEM     string
	Mount            string
	Prefix           string
}

type Store struct {
	kv     *vaultapi.KVv2
	prefix string
}

func New(opts Options) (*Store, error) {
	address := strings.TrimSpace(opts.Address)
	if address == "" {
		return nil, errors.New("vault address is required")
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient = &http.Client{
		Timeout:   30 * time.Second,
		Transport: buildHTTPTransport(opts.TLSSkipVerify, strings.TrimSpace(opts.TLSCACertPEM)),
	}

	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client setup: %w", err)
	}
	if ns := strings.TrimSpace(opts.Namespace); ns != "" {
		client.SetNamespace(ns)
	}

	authType := authTypeToken
	if strings.TrimSpace(opts.Token) == "" && strings.TrimSpace(opts.AppRoleRoleID) != "" {
		authType = authTypeAppRole
	}

	switch authType {
	case authTypeToken:
		token := strings.TrimSpace(opts.Token)
		if token == "" {
			return nil, errors.New("vault token is required")
		}
		client.SetToken(token)
	case authTypeAppRole:
		roleID := strings.TrimSpace(opts.AppRoleRoleID)
		secretID := strings.TrimSpace(opts.AppRoleSecretID)
		mountPath := normalizePath(opts.AppRoleMountPath)
		if mountPath == "" {
			mountPath = "approle"
		}
		if secretID == "" {
			return nil, errors.New("vault AppRole secret ID is required")
		}
		loginPath := "auth/" + mountPath + "/login"
		secret, err := client.Logical().Write(loginPath, map[string]any{
			"role_id":   roleID,
			"secret_id": secretID,
		})
		if err != nil {
			return nil, fmt.Errorf("vault approle login at %s: %w", loginPath, err)
		}
		if secret == nil || secret.Auth == nil || strings.TrimSpace(secret.Auth.ClientToken) == "" {
			return nil, errors.New("vault approle login succeeded without client token")
		}
		client.SetToken(secret.Auth.ClientToken)
	}

	mount := normalizePath(opts.Mount)
	if mount == "" {
		mount = defaultMount
	}
	prefix := normalizePath(opts.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Store{kv: client.KVv2(mount), prefix: prefix}, nil
}

func (s *Store) Get(ctx context.Context, key credentials.Key) (credentials.Credential, error) {
	if err := key.Validate(); err != nil {
		return credentials.Credential{}, err
	}
	data, _, err := s.read(ctx, key.UserID, key.Provider)
	if err != nil {
		return credentials.Credential{}, err
	}
	raw, ok := data[string(key.Kind)]
	if !ok {
		return credentials.Credential{}, credentials.ErrNotFound
	}
	cred, err := decodeEntry(key, raw)
	if err != nil {
		return credentials.Credential{}, storageError("decode", err)
	}
	return cred, nil
}

func (s *Store) Put(ctx context.Context, cred credentials.Credential) error {
	return s.PutAll(ctx, cred)
}

// PutAll groups credentials by grant and writes each grant's secret once.
// A batch spanning one grant is atomic; refreshes never span more than one.
func (s *Store) PutAll(ctx context.Context, creds ...credentials.Credential) error {
	if err := credentials.ValidateBatch(creds); err != nil {
		return err
	}

	type grant struct{ user, provider string }
	order := make([]grant, 0, len(creds))
	grouped := make(map[grant][]credentials.Credential)
	for _, cred := range creds {
		g := grant{cred.UserID, cred.Provider}
		if _, ok := grouped[g]; !ok {
			order = append(order, g)
		}
		grouped[g] = append(grouped[g], cred)
	}

	for _, g := range order {
		if err := s.writeGrant(ctx, g.user, g.provider, grouped[g]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key credentials.Key) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, credentials.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Store) writeGrant(ctx context.Context, userID, provider string, creds []credentials.Credential) error {
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		data, version, err := s.read(ctx, userID, provider)
		if err != nil && !errors.Is(err, credentials.ErrNotFound) {
			return err
		}
		if data == nil {
			data = map[string]any{}
		}
		for _, cred := range creds {
			data[string(cred.Kind)] = encodeEntry(cred)
		}

		_, err = s.kv.Put(ctx, s.secretPath(userID, provider), data, vaultapi.WithCheckAndSet(version))
		if err == nil {
			return nil
		}
		if !isCASMismatch(err) {
			return storageError("put", err)
		}
		lastErr = err
	}
	return storageError("put", fmt.Errorf("check-and-set retries exhausted: %w", lastErr))
}

// read returns the grant's secret data and its current version. A missing
// secret yields ErrNotFound with version 0, which check-and-set treats as
// "must not exist yet".
func (s *Store) read(ctx context.Context, userID, provider string) (map[string]any, int, error) {
	secret, err := s.kv.Get(ctx, s.secretPath(userID, provider))
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return nil, 0, credentials.ErrNotFound
		}
		return nil, 0, storageError("get", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, 0, credentials.ErrNotFound
	}
	version := 0
	if secret.VersionMetadata != nil {
		version = secret.VersionMetadata.Version
	}
	return secret.Data, version, nil
}

func (s *Store) secretPath(userID, provider string) string {
	return s.prefix + "/" + neturl.PathEscape(userID) + "/" + neturl.PathEscape(provider)
}

func encodeEntry(c credentials.Credential) map[string]any {
	entry := map[string]any{
		fieldValue:    c.Value,
		fieldIssuedAt: c.IssuedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.ExpiresAt != nil {
		entry[fieldExpiresAt] = c.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return entry
}

func decodeEntry(key credentials.Key, raw any) (credentials.Credential, error) {
	entry, ok := raw.(map[string]any)
	if !ok {
		return credentials.Credential{}, fmt.Errorf("%s entry has type %T", key.Kind, raw)
	}
	value, _ := entry[fieldValue].(string)
	if value == "" {
		return credentials.Credential{}, fmt.Errorf("%s entry has no value", key.Kind)
	}
	issuedRaw, _ := entry[fieldIssuedAt].(string)
	issuedAt, err := time.Parse(time.RFC3339Nano, issuedRaw)
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("%s issued_at: %w", key.Kind, err)
	}
	cred := credentials.Credential{
		UserID:   key.UserID,
		Provider: key.Provider,
		Kind:     key.Kind,
		Value:    value,
		IssuedAt: issuedAt.UTC(),
	}
	if expRaw, ok := entry[fieldExpiresAt].(string); ok && expRaw != "" {
		exp, err := time.Parse(time.RFC3339Nano, expRaw)
		if err != nil {
			return credentials.Credential{}, fmt.Errorf("%s expires_at: %w", key.Kind, err)
		}
		cred.ExpiresAt = credentials.TimePtr(exp)
	}
	return cred, nil
}

func isCASMismatch(err error) bool {
	var respErr *vaultapi.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusBadRequest {
		return false
	}
	for _, msg := range respErr.Errors {
		if strings.Contains(strings.ToLower(msg), casMismatchSubstr) {
			return true
		}
	}
	return false
}

func normalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func storageError(op string, err error) error {
	metrics.CredentialStoreErrorsTotal.WithLabelValues(backendName, op).Inc()
	return &credentials.StorageError{Backend: backendName, Op: op, Err: err}
}

func buildHTTPTransport(skipVerify bool, caCertPEM string) http.RoundTripper {
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		return http.DefaultTransport
	}
	transport := base.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12
	transport.TLSClientConfig.InsecureSkipVerify = skipVerify
	if caCertPEM != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(caCertPEM)) {
			transport.TLSClientConfig.RootCAs = pool
		}
	}
	return transport
}
