// Package manager runs the per-user connect flow: it issues signed state,
// completes authorizations and derives connection status from stored grants.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goldilockshq/connector-hub/internal/connectors/pending"
	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/metrics"
	"github.com/goldilockshq/connector-hub/internal/schema"
	"github.com/goldilockshq/connector-hub/internal/tokens"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPendingTTL    = 10 * time.Minute
	defaultStatusWorkers = 4
	stateIssuer          = "connector-hub"
)

var ErrUserRequired = errors.New("user id is required")

// Reason explains why an authorization could not be completed.
type Reason string

const (
	ReasonInvalidState      Reason = "invalid_state"
	ReasonConnectorMismatch Reason = "connector_mismatch"
	ReasonExpiredState      Reason = "expired_state"
	ReasonExchangeFailed    Reason = "exchange_failed"
)

type AuthorizationError struct {
	Connector string
	Reason    Reason
	Err       error
}

func (e *AuthorizationError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("authorize %s: %s", e.Connector, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthorizationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConnectResult carries what the client needs to continue the flow. AuthURL
// is set for oauth_redirect connectors, LinkToken for public_token ones.
type ConnectResult struct {
	Connector string
	AuthURL   string
	LinkToken string
	State     string
}

type State string

const (
	StateUnconnected          State = "unconnected"
	StateAuthorizationPending State = "authorization_pending"
	StateConnected            State = "connected"
	StateAuthenticated        State = "authenticated"
)

type ConnectionStatus struct {
	ConnectorID     uuid.UUID `json:"connectorId"`
	Connector       string    `json:"connector"`
	DisplayName     string    `json:"displayName"`
	IsConnected     bool      `json:"isConnected"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	State           State     `json:"state"`
}

type stateClaims struct {
	UserID    string `json:"uid"`
	Connector string `json:"cid"`
	jwt.RegisteredClaims
}

type Manager struct {
	registry   *registry.ConnectorRegistry
	tokens     *tokens.Manager
	pending    pending.Store
	secret     []byte
	pendingTTL time.Duration
	workers    int
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Manager)

func WithPendingTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pendingTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
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

// WithStatusWorkers bounds how many connectors ListStatuses probes at once.
func WithStatusWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

func New(reg *registry.ConnectorRegistry, tok *tokens.Manager, store pending.Store, secret []byte, opts ...Option) (*Manager, error) {
	if reg == nil || tok == nil || store == nil {
		return nil, errors.New("registry, token manager and pending store are required")
	}
	if len(secret) == 0 {
		return nil, errors.New("state secret is required")
	}
	m := &Manager{
		registry:   reg,
		tokens:     tok,
		pending:    store,
		secret:     append([]byte(nil), secret...),
		pendingTTL: defaultPendingTTL,
		workers:    defaultStatusWorkers,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Connect starts an authorization for userID and records it as pending.
func (m *Manager) Connect(ctx context.Context, connector, userID string) (ConnectResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ConnectResult{}, ErrUserRequired
	}
	def, ok := m.registry.Get(connector)
	if !ok {
		return ConnectResult{}, fmt.Errorf("%w: %q", registry.ErrConnectorNotFound, connector)
	}
	name := normalize(def.Name())

	now := m.now()
	nonce := uuid.NewString()
	state, err := m.signState(stateClaims{
		UserID:    userID,
		Connector: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.pendingTTL)),
		},
	})
	if err != nil {
		return ConnectResult{}, err
	}

	result := ConnectResult{Connector: name, State: state}
	switch auth := def.Authorizer().(type) {
	case registry.RedirectAuthorizer:
		result.AuthURL = auth.AuthURL(state)
	case registry.LinkAuthorizer:
		link, err := auth.LinkToken(ctx, userID)
		if err != nil {
			m.record(name, "connect", "error")
			return ConnectResult{}, fmt.Errorf("create %s link token: %w", name, err)
		}
		result.LinkToken = link
	default:
		return ConnectResult{}, fmt.Errorf("connector %s has no interactive authorizer", name)
	}

	if err := m.pending.Put(ctx, pending.Authorization{
		Nonce:     nonce,
		UserID:    userID,
		Connector: name,
		CreatedAt: now.UTC(),
	}, m.pendingTTL); err != nil {
		m.record(name, "connect", "error")
		return ConnectResult{}, fmt.Errorf("record pending authorization: %w", err)
	}

	m.record(name, "connect", "success")
	m.logger.Info("authorization started", "connector", name, "user_id", userID, "flow", def.AuthFlow())
	return result, nil
}

// CompleteAuthorization redeems code for the authorization identified by
// state and stores the resulting grant. An empty connector accepts whatever
// connector the state was issued for. Failures the user can act on are
// *AuthorizationError; anything else is an infrastructure error.
func (m *Manager) CompleteAuthorization(ctx context.Context, connector, code, state string) error {
	claims, err := m.parseState(state)
	if err != nil {
		return m.fail(connector, ReasonInvalidState, err)
	}
	if connector != "" && normalize(connector) != claims.Connector {
		return m.fail(claims.Connector, ReasonConnectorMismatch,
			fmt.Errorf("state was issued for %q", claims.Connector))
	}
	def, ok := m.registry.Get(claims.Connector)
	if !ok {
		return m.fail(claims.Connector, ReasonInvalidState,
			fmt.Errorf("%w: %q", registry.ErrConnectorNotFound, claims.Connector))
	}
	c, err := m.registry.GetConnector(claims.Connector)
	if err != nil {
		return err
	}

	taken, err := m.pending.Take(ctx, claims.ID)
	if errors.Is(err, pending.ErrNotFound) {
		return m.fail(claims.Connector, ReasonExpiredState, err)
	}
	if err != nil {
		m.record(claims.Connector, "complete", "error")
		return fmt.Errorf("consume pending authorization: %w", err)
	}
	if taken.UserID != claims.UserID || normalize(taken.Connector) != claims.Connector {
		return m.fail(claims.Connector, ReasonInvalidState, errors.New("state does not match pending authorization"))
	}

	tok, err := def.Authorizer().Exchange(ctx, code)
	if err != nil {
		return m.fail(claims.Connector, ReasonExchangeFailed, err)
	}
	if err := m.tokens.StoreInitialGrant(ctx, claims.UserID, c.Provider, tok); err != nil {
		m.record(claims.Connector, "complete", "error")
		return fmt.Errorf("store %s grant: %w", claims.Connector, err)
	}

	m.record(claims.Connector, "complete", "success")
	m.logger.Info("authorization completed", "connector", claims.Connector, "user_id", claims.UserID)
	return nil
}

// GetConnectorStatus derives the connection state of one connector for userID.
func (m *Manager) GetConnectorStatus(ctx context.Context, connector, userID string) (ConnectionStatus, error) {
	c, err := m.registry.GetConnector(connector)
	if err != nil {
		return ConnectionStatus{}, err
	}
	return m.status(ctx, c, userID)
}

// ListStatuses reports every registered connector for userID, in registry
// order.
func (m *Manager) ListStatuses(ctx context.Context, userID string) ([]ConnectionStatus, error) {
	connectors := m.registry.ListConnectors()
	out := make([]ConnectionStatus, len(connectors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, c := range connectors {
		g.Go(func() error {
			st, err := m.status(gctx, c, userID)
			if err != nil {
				return fmt.Errorf("status for %s: %w", c.Name, err)
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) GetToolDefinitions(names []string) map[string][]schema.ToolDefinition {
	return m.registry.GetToolDefinitions(names)
}

func (m *Manager) status(ctx context.Context, c registry.Connector, userID string) (ConnectionStatus, error) {
	st := ConnectionStatus{
		ConnectorID: c.ID,
		Connector:   c.Name,
		DisplayName: c.DisplayName,
		State:       StateUnconnected,
	}
	probe, err := m.tokens.Probe(ctx, userID, c.Provider)
	if err != nil {
		return ConnectionStatus{}, err
	}
	st.IsConnected = probe.Connected
	st.IsAuthenticated = probe.Authenticated

	switch {
	case probe.Authenticated:
		st.State = StateAuthenticated
	case probe.Connected:
		st.State = StateConnected
	default:
		waiting, err := m.pending.Pending(ctx, userID, c.Name)
		if err != nil {
			return ConnectionStatus{}, err
		}
		if waiting {
			st.State = StateAuthorizationPending
		}
	}
	return st, nil
}

func (m *Manager) signState(claims stateClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

func (m *Manager) parseState(raw string) (*stateClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("state is empty")
	}
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.UserID == "" || claims.Connector == "" {
		return nil, errors.New("state is missing required claims")
	}
	return claims, nil
}

func (m *Manager) fail(connector string, reason Reason, err error) error {
	connector = normalize(connector)
	m.record(connector, "complete", string(reason))
	m.logger.Warn("authorization rejected", "connector", connector, "reason", reason, "error", err)
	return &AuthorizationError{Connector: connector, Reason: reason, Err: err}
}

func (m *Manager) record(connector, step, outcome string) {
	if _, ok := m.registry.Get(connector); !ok {
		connector = "unknown"
	}
	metrics.AuthorizationsTotal.WithLabelValues(connector, step, outcome).Inc()
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
