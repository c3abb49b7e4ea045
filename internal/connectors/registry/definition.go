package registry

import (
	"context"

	"github.com/goldilockshq/connector-hub/internal/provider"
	"github.com/goldilockshq/connector-hub/internal/schema"
)

// AuthFlow is how a user grants a connector access.
type AuthFlow string

const (
	// AuthFlowOAuthRedirect sends the user to the provider and back to the callback.
	AuthFlowOAuthRedirect AuthFlow = "oauth_redirect"
	// AuthFlowPublicToken hands a link token to a client widget, which later
	// returns a public token for exchange.
	AuthFlowPublicToken AuthFlow = "public_token"
)

func (f AuthFlow) Valid() bool {
	return f == AuthFlowOAuthRedirect || f == AuthFlowPublicToken
}

// ConnectorDefinition defines the behavior and metadata for a connector.
type ConnectorDefinition interface {
	// Identity
	Name() string        // e.g., "sheets", "plaid"
	DisplayName() string // e.g., "Google Sheets"
	Provider() string    // credential key; empty means Name()

	// Authorization
	AuthFlow() AuthFlow
	Authorizer() Authorizer

	// Tools
	Metadata() map[string]string
	Tools() []schema.ToolDefinition
	Invoke(ctx context.Context, inv Invocation) (any, error)
}

// Invocation is a validated tool call with a usable access token.
type Invocation struct {
	Function    string
	Arguments   map[string]any
	AccessToken string
}

// String returns a string argument, or "" when absent.
func (inv Invocation) String(name string) string {
	s, _ := inv.Arguments[name].(string)
	return s
}

// StringOr returns a string argument, or def when absent or empty.
func (inv Invocation) StringOr(name, def string) string {
	if s := inv.String(name); s != "" {
		return s
	}
	return def
}

// Int returns an integer argument, or def when absent.
func (inv Invocation) Int(name string, def int) int {
	switch v := inv.Arguments[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// Bool returns a boolean argument, or def when absent.
func (inv Invocation) Bool(name string, def bool) bool {
	if b, ok := inv.Arguments[name].(bool); ok {
		return b
	}
	return def
}

// Array returns an array argument, or nil when absent.
func (inv Invocation) Array(name string) []any {
	a, _ := inv.Arguments[name].([]any)
	return a
}

// Authorizer turns a completed authorization into tokens.
type Authorizer interface {
	Exchange(ctx context.Context, code string) (provider.Token, error)
}

// RedirectAuthorizer is the Authorizer of an oauth_redirect connector.
type RedirectAuthorizer interface {
	Authorizer
	AuthURL(state string) string
}

// LinkAuthorizer is the Authorizer of a public_token connector.
type LinkAuthorizer interface {
	Authorizer
	LinkToken(ctx context.Context, userID string) (string, error)
}
