package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goldilockshq/connector-hub/internal/agent"
	"github.com/goldilockshq/connector-hub/internal/config"
	"github.com/goldilockshq/connector-hub/internal/connectors/docs"
	"github.com/goldilockshq/connector-hub/internal/connectors/manager"
	"github.com/goldilockshq/connector-hub/internal/connectors/pending"
	"github.com/goldilockshq/connector-hub/internal/connectors/plaid"
	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/connectors/sheets"
	"github.com/goldilockshq/connector-hub/internal/credentials"
	"github.com/goldilockshq/connector-hub/internal/credentials/pgstore"
	"github.com/goldilockshq/connector-hub/internal/credentials/sqlitestore"
	"github.com/goldilockshq/connector-hub/internal/credentials/vaultstore"
	"github.com/goldilockshq/connector-hub/internal/metrics"
	"github.com/goldilockshq/connector-hub/internal/tokens"
	"github.com/jackc/pgx/v5/pgxpool"
)

// services is everything a command needs to act on user connections.
type services struct {
	registry   *registry.ConnectorRegistry
	tokens     *tokens.Manager
	manager    *manager.Manager
	dispatcher *agent.Dispatcher
	closers    []func()
	// checks holds a readiness ping per store that supports one.
	checks map[string]metrics.ReadinessCheck
}

type pinger interface {
	Ping(ctx context.Context) error
}

// readinessOptions exposes the store pings on the metrics listener's /readyz.
func (s *services) readinessOptions() []metrics.ServerOption {
	opts := make([]metrics.ServerOption, 0, len(s.checks))
	for name, check := range s.checks {
		opts = append(opts, metrics.WithReadinessCheck(name, check))
	}
	return opts
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (*services, error) {
	svc := &services{checks: map[string]metrics.ReadinessCheck{}}
	ok := false
	defer func() {
		if !ok {
			svc.Close()
		}
	}()

	reg, err := buildConnectorRegistry(cfg, logger, false)
	if err != nil {
		return nil, err
	}
	svc.registry = reg

	store, closeStore, err := buildCredentialStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, closeStore)
	if p, isPinger := store.(pinger); isPinger {
		svc.checks["credentials"] = p.Ping
	}

	pendingStore, closePending, err := buildPendingStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, closePending)
	if p, isPinger := pendingStore.(pinger); isPinger {
		svc.checks["pending_authorizations"] = p.Ping
	}

	secret, err := stateSecret(cfg, logger)
	if err != nil {
		return nil, err
	}

	svc.tokens = tokens.NewManager(store, reg.Refreshers(),
		tokens.WithRefreshTimeout(cfg.RefreshTimeout),
		tokens.WithLogger(logger),
	)
	svc.manager, err = manager.New(reg, svc.tokens, pendingStore, secret,
		manager.WithPendingTTL(cfg.PendingAuthTTL),
		manager.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	svc.dispatcher = agent.NewDispatcher(reg, svc.tokens,
		agent.WithProviderTimeout(cfg.ProviderTimeout),
		agent.WithLogger(logger),
	)

	ok = true
	return svc, nil
}

// buildConnectorRegistry registers every connector whose provider credentials
// are configured. With all set, unconfigured connectors are registered too so
// their catalogs can be listed.
func buildConnectorRegistry(cfg config.Config, logger *slog.Logger, all bool) (*registry.ConnectorRegistry, error) {
	reg := registry.NewRegistry()

	if all || cfg.GoogleClientID != "" {
		if err := reg.Register(sheets.New(sheets.Options{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL(),
			RateLimit:    cfg.ProviderRateLimit,
		})); err != nil {
			return nil, err
		}
		if err := reg.Register(docs.New(docs.Options{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL(),
			RateLimit:    cfg.ProviderRateLimit,
		})); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("google connectors disabled", "reason", "GOOGLE_CLIENT_ID is not set")
	}

	if all || cfg.PlaidClientID != "" {
		def, err := plaid.New(plaid.Options{
			ClientID:  cfg.PlaidClientID,
			Secret:    cfg.PlaidSecret,
			Env:       cfg.PlaidEnv,
			RateLimit: cfg.ProviderRateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("plaid connector: %w", err)
		}
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("plaid connector disabled", "reason", "PLAID_CLIENT_ID is not set")
	}

	return reg, nil
}

func buildCredentialStore(ctx context.Context, cfg config.Config) (credentials.Store, func(), error) {
	switch cfg.CredentialBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pgstore.New(pool), pool.Close, nil
	case config.BackendSQLite:
		store, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.BackendVault:
		store, err := vaultstore.New(vaultstore.Options{
			Address:         cfg.VaultAddr,
			Namespace:       cfg.VaultNamespace,
			Token:           cfg.VaultToken,
			AppRoleRoleID:   cfg.VaultAppRoleRoleID,
			AppRoleSecretID: cfg.VaultAppRoleSecretID,
			Mount:           cfg.VaultKVMount,
			Prefix:          cfg.VaultKVPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.BackendMemory:
		return credentials.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown credential backend %q", cfg.CredentialBackend)
	}
}

func buildPendingStore(ctx context.Context, cfg config.Config) (pending.Store, func(), error) {
	switch cfg.PendingAuthBackend {
	case config.PendingBackendRedis:
		store, err := pending.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.PendingBackendMemory:
		return pending.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown pending authorization backend %q", cfg.PendingAuthBackend)
	}
}

// stateSecret returns the configured state signing key. Dev mode without one
// gets a per-process random key, so pending authorizations do not survive a
// restart.
func stateSecret(cfg config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.StateSecret != "" {
		return []byte(cfg.StateSecret), nil
	}
	if !cfg.DevMode {
		return nil, errors.New("STATE_SECRET is required")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	logger.Warn("STATE_SECRET not set; using an ephemeral key (dev mode)")
	return secret, nil
}
