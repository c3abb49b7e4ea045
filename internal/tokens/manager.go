// Package tokens decides when a stored credential is usable and refreshes it
// when it is not. Refresh for a (user, provider) pair is single-flight.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goldilockshq/connector-hub/internal/credentials"
	"github.com/goldilockshq/connector-hub/internal/metrics"
	"github.com/goldilockshq/connector-hub/internal/provider"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshTimeout = 30 * time.Second

var (
	// ErrAuthRequired means the user never authorized the provider.
	ErrAuthRequired = errors.New("authorization required")
	// ErrRefreshFailed means a grant exists but could not be refreshed.
	ErrRefreshFailed = errors.New("credential refresh failed")
)

// RefreshError reports why a refresh failed. It matches ErrRefreshFailed.
type RefreshError struct {
	Provider string
	Err      error
}

func (e *RefreshError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("refresh %s credential: %v", e.Provider, e.Err)
}

func (e *RefreshError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

// Refresher redeems a refresh token with a provider.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (provider.Token, error)
}

// Pair is a usable access credential plus the stored refresh token, if any.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Probe is a side-effect-free view of a grant, except that an expired access
// credential is refreshed to decide Authenticated.
type Probe struct {
	Connected     bool
	Authenticated bool
}

type Manager struct {
	store          credentials.Store
	refreshers     map[string]Refresher
	now            func() time.Time
	refreshTimeout time.Duration
	logger         *slog.Logger
	flights        singleflight.Group
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager builds a manager over store. refreshers is keyed by provider name.
func NewManager(store credentials.Store, refreshers map[string]Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		refreshers:     make(map[string]Refresher, len(refreshers)),
		now:            time.Now,
		refreshTimeout: defaultRefreshTimeout,
		logger:         slog.Default(),
	}
	for name, r := range refreshers {
		if r != nil {
			m.refreshers[normalizeProvider(name)] = r
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidCredential returns a non-expired access credential for the pair,
// refreshing it first when needed. Errors are ErrAuthRequired, a *RefreshError
// or a *credentials.StorageError.
func (m *Manager) GetValidCredential(ctx context.Context, userID, providerName string) (Pair, error) {
	if strings.TrimSpace(userID) == "" {
		return Pair{}, ErrAuthRequired
	}
	providerName = normalizeProvider(providerName)
	access, err := m.store.Get(ctx, accessKey(userID, providerName))
	if errors.Is(err, credentials.ErrNotFound) {
		return Pair{}, ErrAuthRequired
	}
	if err != nil {
		return Pair{}, err
	}
	if !access.ExpiredAt(m.now()) {
		return m.pairFor(ctx, access)
	}
	return m.refresh(ctx, userID, providerName)
}

// StoreInitialGrant writes the tokens from a completed authorization. An
// empty refresh token keeps whatever refresh row already exists.
func (m *Manager) StoreInitialGrant(ctx context.Context, userID, providerName string, tok provider.Token) error {
	providerName = normalizeProvider(providerName)
	if strings.TrimSpace(tok.AccessToken) == "" {
		return fmt.Errorf("%w: access token is required", credentials.ErrInvalidCredential)
	}
	now := credentials.Timestamp(m.now())
	batch := []credentials.Credential{{
		UserID:    userID,
		Provider:  providerName,
		Kind:      credentials.KindAccess,
		Value:     tok.AccessToken,
		IssuedAt:  now,
		ExpiresAt: timestampPtr(tok.ExpiresAt),
	}}
	if tok.RefreshToken != "" {
		batch = append(batch, credentials.Credential{
			UserID:   userID,
			Provider: providerName,
			Kind:     credentials.KindRefresh,
			Value:    tok.RefreshToken,
			IssuedAt: now,
		})
	}
	return m.store.PutAll(ctx, batch...)
}

// Probe reports whether a grant exists and whether it is currently usable.
// A failed refresh reports Connected without Authenticated.
func (m *Manager) Probe(ctx context.Context, userID, providerName string) (Probe, error) {
	if strings.TrimSpace(userID) == "" {
		return Probe{}, nil
	}
	providerName = normalizeProvider(providerName)
	exists, err := m.store.Exists(ctx, accessKey(userID, providerName))
	if err != nil {
		return Probe{}, err
	}
	if !exists {
		return Probe{}, nil
	}
	_, err = m.GetValidCredential(ctx, userID, providerName)
	switch {
	case err == nil:
		return Probe{Connected: true, Authenticated: true}, nil
	case errors.Is(err, ErrRefreshFailed), errors.Is(err, ErrAuthRequired):
		return Probe{Connected: true}, nil
	default:
		return Probe{}, err
	}
}

func (m *Manager) pairFor(ctx context.Context, access credentials.Credential) (Pair, error) {
	pair := Pair{AccessToken: access.Value, ExpiresAt: access.ExpiresAt}
	refresh, err := m.store.Get(ctx, refreshKey(access.UserID, access.Provider))
	switch {
	case err == nil:
		pair.RefreshToken = refresh.Value
	case errors.Is(err, credentials.ErrNotFound):
	default:
		return Pair{}, err
	}
	return pair, nil
}

// refresh joins or starts the flight for the pair. The flight is detached
// from ctx so an abandoned caller cannot cut a refresh short between the
// provider call and the persist; the caller stops waiting instead.
func (m *Manager) refresh(ctx context.Context, userID, providerName string) (Pair, error) {
	key := userID + "\x00" + providerName
	ch := m.flights.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refreshAndPersist(flightCtx, userID, providerName)
	})

	select {
	case <-ctx.Done():
		return Pair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Pair{}, res.Err
		}
		return res.Val.(Pair), nil
	}
}

func (m *Manager) refreshAndPersist(ctx context.Context, userID, providerName string) (Pair, error) {
	logger := m.logger.With("provider", providerName, "user_id", userID)

	// Another flight may have finished between our read and this one starting.
	access, err := m.store.Get(ctx, accessKey(userID, providerName))
	if errors.Is(err, credentials.ErrNotFound) {
		return Pair{}, ErrAuthRequired
	}
	if err != nil {
		return Pair{}, err
	}
	if !access.ExpiredAt(m.now()) {
		return m.pairFor(ctx, access)
	}

	stored, err := m.store.Get(ctx, refreshKey(userID, providerName))
	if errors.Is(err, credentials.ErrNotFound) || (err == nil && stored.Value == "") {
		m.recordRefresh(providerName, "no_refresh_token")
		return Pair{}, &RefreshError{Provider: providerName, Err: errors.New("no refresh token stored")}
	}
	if err != nil {
		return Pair{}, err
	}

	refresher, ok := m.refreshers[providerName]
	if !ok {
		m.recordRefresh(providerName, "unsupported")
		return Pair{}, &RefreshError{Provider: providerName, Err: provider.ErrRefreshUnsupported}
	}

	tok, err := refresher.Refresh(ctx, stored.Value)
	if err != nil {
		m.recordRefresh(providerName, "rejected")
		logger.Warn("credential refresh failed", "error", err)
		return Pair{}, &RefreshError{Provider: providerName, Err: err}
	}
	if tok.AccessToken == "" {
		m.recordRefresh(providerName, "rejected")
		return Pair{}, &RefreshError{Provider: providerName, Err: errors.New("provider returned an empty access token")}
	}

	now := credentials.Timestamp(m.now())
	nextAccess := credentials.Credential{
		UserID:    userID,
		Provider:  providerName,
		Kind:      credentials.KindAccess,
		Value:     tok.AccessToken,
		IssuedAt:  now,
		ExpiresAt: timestampPtr(tok.ExpiresAt),
	}
	nextRefresh := stored
	if tok.RefreshToken != "" && tok.RefreshToken != stored.Value {
		nextRefresh = credentials.Credential{
			UserID:   userID,
			Provider: providerName,
			Kind:     credentials.KindRefresh,
			Value:    tok.RefreshToken,
			IssuedAt: now,
		}
	}
	if err := m.store.PutAll(ctx, nextAccess, nextRefresh); err != nil {
		m.recordRefresh(providerName, "store_error")
		return Pair{}, err
	}

	m.recordRefresh(providerName, "success")
	logger.Info("credential refreshed", "rotated", nextRefresh.Value != stored.Value)
	return Pair{AccessToken: nextAccess.Value, RefreshToken: nextRefresh.Value, ExpiresAt: nextAccess.ExpiresAt}, nil
}

func (m *Manager) recordRefresh(providerName, outcome string) {
	metrics.TokenRefreshesTotal.WithLabelValues(providerName, outcome).Inc()
}

// timestampPtr normalizes a provider expiry so what we return matches what
// every store reads back.
func timestampPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := credentials.Timestamp(*t)
	return &ts
}

func accessKey(userID, providerName string) credentials.Key {
	return credentials.Key{UserID: userID, Provider: providerName, Kind: credentials.KindAccess}
}

func refreshKey(userID, providerName string) credentials.Key {
	return credentials.Key{UserID: userID, Provider: providerName, Kind: credentials.KindRefresh}
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
