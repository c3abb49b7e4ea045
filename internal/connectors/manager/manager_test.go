package manager

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goldilockshq/connector-hub/internal/connectors/pending"
	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/credentials"
	"github.com/goldilockshq/connector-hub/internal/provider"
	"github.com/goldilockshq/connector-hub/internal/schema"
	"github.com/goldilockshq/connector-hub/internal/tokens"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type redirectAuth struct {
	clock      *clock
	refreshErr error
}

func (a *redirectAuth) AuthURL(state string) string {
	return "https://auth.example.com/authorize?state=" + url.QueryEscape(state)
}

func (a *redirectAuth) Exchange(_ context.Context, code string) (provider.Token, error) {
	if code != "good-code" {
		return provider.Token{}, &provider.Error{Provider: "sheets", Status: 400, Code: "invalid_grant"}
	}
	exp := a.clock.Now().Add(time.Hour)
	return provider.Token{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: &exp}, nil
}

func (a *redirectAuth) Refresh(context.Context, string) (provider.Token, error) {
	if a.refreshErr != nil {
		return provider.Token{}, a.refreshErr
	}
	exp := a.clock.Now().Add(time.Hour)
	return provider.Token{AccessToken: "access-2", ExpiresAt: &exp}, nil
}

type linkAuth struct{}

func (linkAuth) LinkToken(_ context.Context, userID string) (string, error) {
	return "link-" + userID, nil
}

func (linkAuth) Exchange(_ context.Context, publicToken string) (provider.Token, error) {
	if publicToken != "public-1" {
		return provider.Token{}, errors.New("bad public token")
	}
	return provider.Token{AccessToken: "item-access"}, nil
}

type testDefinition struct {
	name string
	flow registry.AuthFlow
	auth registry.Authorizer
}

func (d testDefinition) Name() string                    { return d.name }
func (d testDefinition) DisplayName() string             { return strings.ToUpper(d.name) }
func (d testDefinition) Provider() string                { return "" }
func (d testDefinition) AuthFlow() registry.AuthFlow     { return d.flow }
func (d testDefinition) Authorizer() registry.Authorizer { return d.auth }
func (d testDefinition) Metadata() map[string]string     { return nil }
func (d testDefinition) Tools() []schema.ToolDefinition  { return []schema.ToolDefinition{testTool} }
func (d testDefinition) Invoke(context.Context, registry.Invocation) (any, error) {
	return map[string]any{}, nil
}

var testTool = schema.ToolDefinition{
	FunctionName: "ping",
	Description:  "ping the provider",
	Parameters:   &schema.Node{Kind: schema.KindObject},
}

type fixture struct {
	clock   *clock
	sheets  *redirectAuth
	store   *credentials.MemoryStore
	pending *pending.MemoryStore
	mgr     *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		store:   credentials.NewMemoryStore(),
		pending: pending.NewMemoryStore(),
	}
	f.sheets = &redirectAuth{clock: f.clock}

	reg := registry.NewRegistry()
	defs := []registry.ConnectorDefinition{
		testDefinition{name: "sheets", flow: registry.AuthFlowOAuthRedirect, auth: f.sheets},
		testDefinition{name: "docs", flow: registry.AuthFlowOAuthRedirect, auth: &redirectAuth{clock: f.clock}},
		testDefinition{name: "plaid", flow: registry.AuthFlowPublicToken, auth: linkAuth{}},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name(), err)
		}
	}
	tok := tokens.NewManager(f.store, reg.Refreshers(), tokens.WithClock(f.clock.Now))
	mgr, err := New(reg, tok, f.pending, testSecret, WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.mgr = mgr
	return f
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthorizationError", err)
	}
	return authErr.Reason
}

func TestRedirectFlowLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	st, err := f.mgr.GetConnectorStatus(ctx, "sheets", "u1")
	if err != nil {
		t.Fatalf("GetConnectorStatus() error = %v", err)
	}
	if st.State != StateUnconnected || st.IsConnected || st.IsAuthenticated {
		t.Fatalf("initial status = %+v", st)
	}

	res, err := f.mgr.Connect(ctx, "Sheets", "u1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if res.State == "" || !strings.Contains(res.AuthURL, url.QueryEscape(res.State)) || res.LinkToken != "" {
		t.Fatalf("Connect() = %+v", res)
	}
	if st, _ := f.mgr.GetConnectorStatus(ctx, "sheets", "u1"); st.State != StateAuthorizationPending {
		t.Fatalf("status after Connect = %s, want %s", st.State, StateAuthorizationPending)
	}

	if err := f.mgr.CompleteAuthorization(ctx, "", "good-code", res.State); err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	st, _ = f.mgr.GetConnectorStatus(ctx, "sheets", "u1")
	if st.State != StateAuthenticated || !st.IsConnected || !st.IsAuthenticated {
		t.Fatalf("status after completion = %+v", st)
	}
	refresh, err := f.store.Get(ctx, credentials.Key{UserID: "u1", Provider: "sheets", Kind: credentials.KindRefresh})
	if err != nil || refresh.Value != "refresh-1" {
		t.Fatalf("refresh credential = %+v, %v", refresh, err)
	}

	err = f.mgr.CompleteAuthorization(ctx, "sheets", "good-code", res.State)
	if got := reasonOf(t, err); got != ReasonExpiredState {
		t.Fatalf("replayed state reason = %s, want %s", got, ReasonExpiredState)
	}
}

func TestCompleteAuthorizationRejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(f *fixture, state string) (connector, code, st string)
		want  Reason
	}{
		{
			name: "tampered state",
			setup: func(_ *fixture, state string) (string, string, string) {
				return "sheets", "good-code", state + "x"
			},
			want: ReasonInvalidState,
		},
		{
			name: "garbage state",
			setup: func(*fixture, string) (string, string, string) {
				return "sheets", "good-code", "not-a-jwt"
			},
			want: ReasonInvalidState,
		},
		{
			name: "empty state",
			setup: func(*fixture, string) (string, string, string) {
				return "sheets", "good-code", ""
			},
			want: ReasonInvalidState,
		},
		{
			name: "expired state",
			setup: func(f *fixture, state string) (string, string, string) {
				f.clock.Advance(11 * time.Minute)
				return "sheets", "good-code", state
			},
			want: ReasonInvalidState,
		},
		{
			name: "other connector",
			setup: func(_ *fixture, state string) (string, string, string) {
				return "docs", "good-code", state
			},
			want: ReasonConnectorMismatch,
		},
		{
			name: "bad code",
			setup: func(_ *fixture, state string) (string, string, string) {
				return "sheets", "bad-code", state
			},
			want: ReasonExchangeFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			res, err := f.mgr.Connect(ctx, "sheets", "u1")
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			connector, code, state := tc.setup(f, res.State)
			err = f.mgr.CompleteAuthorization(ctx, connector, code, state)
			if got := reasonOf(t, err); got != tc.want {
				t.Fatalf("reason = %s, want %s (err = %v)", got, tc.want, err)
			}
			if ok, _ := f.store.Exists(ctx, credentials.Key{UserID: "u1", Provider: "sheets", Kind: credentials.KindAccess}); ok {
				t.Fatal("credential stored after rejected authorization")
			}
		})
	}
}

func TestStateFromAnotherSecretIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	other, err := New(f.mgr.registry, f.mgr.tokens, f.pending, []byte("another-secret-another-secret-xx"), WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := other.Connect(context.Background(), "sheets", "u1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	err = f.mgr.CompleteAuthorization(context.Background(), "sheets", "good-code", res.State)
	if got := reasonOf(t, err); got != ReasonInvalidState {
		t.Fatalf("reason = %s, want %s", got, ReasonInvalidState)
	}
}

func TestConnectValidatesInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.mgr.Connect(context.Background(), "calendar", "u1"); !errors.Is(err, registry.ErrConnectorNotFound) {
		t.Fatalf("Connect(unknown) error = %v", err)
	}
	if _, err := f.mgr.Connect(context.Background(), "sheets", "  "); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("Connect(empty user) error = %v", err)
	}
}

func TestPublicTokenFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.mgr.Connect(ctx, "plaid", "u1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if res.LinkToken != "link-u1" || res.AuthURL != "" {
		t.Fatalf("Connect() = %+v", res)
	}
	if err := f.mgr.CompleteAuthorization(ctx, "plaid", "public-1", res.State); err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	st, err := f.mgr.GetConnectorStatus(ctx, "plaid", "u1")
	if err != nil {
		t.Fatalf("GetConnectorStatus() error = %v", err)
	}
	if st.State != StateAuthenticated {
		t.Fatalf("status = %+v", st)
	}
}

func TestFailedRefreshReportsConnectedOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.sheets.refreshErr = &provider.Error{Provider: "sheets", Status: 400, Code: "invalid_grant"}

	expired := f.clock.Now().Add(-time.Minute)
	if err := f.store.PutAll(ctx,
		credentials.Credential{UserID: "u1", Provider: "sheets", Kind: credentials.KindAccess, Value: "old", IssuedAt: f.clock.Now().Add(-time.Hour), ExpiresAt: &expired},
		credentials.Credential{UserID: "u1", Provider: "sheets", Kind: credentials.KindRefresh, Value: "revoked", IssuedAt: f.clock.Now().Add(-time.Hour)},
	); err != nil {
		t.Fatalf("PutAll() error = %v", err)
	}

	st, err := f.mgr.GetConnectorStatus(ctx, "sheets", "u1")
	if err != nil {
		t.Fatalf("GetConnectorStatus() error = %v", err)
	}
	if st.State != StateConnected || !st.IsConnected || st.IsAuthenticated {
		t.Fatalf("status = %+v, want connected but not authenticated", st)
	}
}

func TestListStatusesKeepsRegistryOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.Put(ctx, credentials.Credential{UserID: "u1", Provider: "docs", Kind: credentials.KindAccess, Value: "a", IssuedAt: f.clock.Now()}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	statuses, err := f.mgr.ListStatuses(ctx, "u1")
	if err != nil {
		t.Fatalf("ListStatuses() error = %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("len(statuses) = %d, want 3", len(statuses))
	}
	wantNames := []string{"sheets", "docs", "plaid"}
	for i, st := range statuses {
		if st.Connector != wantNames[i] {
			t.Fatalf("statuses[%d] = %s, want %s", i, st.Connector, wantNames[i])
		}
		if st.ConnectorID != registry.ConnectorID(wantNames[i]) {
			t.Fatalf("statuses[%d].ConnectorID = %s", i, st.ConnectorID)
		}
	}
	if statuses[1].State != StateAuthenticated || statuses[0].State != StateUnconnected {
		t.Fatalf("statuses = %+v", statuses)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := New(f.mgr.registry, f.mgr.tokens, f.pending, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
