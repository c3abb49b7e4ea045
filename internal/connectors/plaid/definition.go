// Package plaid is the Plaid banking connector. It uses the public-token flow:
// the client widget links an account and hands back a public token that is
// exchanged once for an access token that does not expire.
package plaid

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/provider"
	"github.com/goldilockshq/connector-hub/internal/schema"
)

const Name = "plaid"

//go:embed tools.yaml
var toolsYAML []byte

var tools = schema.MustLoadTools(toolsYAML)

type Options struct {
	ClientID     string
	Secret       string
	Env          string
	ClientName   string
	Products     []string
	CountryCodes []string
	RateLimit    int
	HTTPClient   *http.Client

	// BaseURL overrides the environment host, for tests.
	BaseURL string
}

type Definition struct {
	client *Client
	link   LinkTokenRequest
}

func New(opts Options) (*Definition, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		u, err := BaseURLForEnv(opts.Env)
		if err != nil {
			return nil, err
		}
		baseURL = u
	}
	httpOpts := []provider.HTTPClientOption{
		provider.WithErrorDecoder(DecodeError),
		provider.WithRateLimit(opts.RateLimit),
	}
	if opts.HTTPClient != nil {
		httpOpts = append(httpOpts, provider.WithHTTPClient(opts.HTTPClient))
	}

	link := LinkTokenRequest{
		ClientName:   opts.ClientName,
		Products:     opts.Products,
		CountryCodes: opts.CountryCodes,
		Language:     "en",
	}
	if link.ClientName == "" {
		link.ClientName = "Connector Hub"
	}
	if len(link.Products) == 0 {
		link.Products = []string{"transactions"}
	}
	if len(link.CountryCodes) == 0 {
		link.CountryCodes = []string{"US"}
	}

	return &Definition{
		client: NewClient(provider.NewHTTPClient(Name, httpOpts...), baseURL, opts.ClientID, opts.Secret),
		link:   link,
	}, nil
}

func (d *Definition) Name() string                    { return Name }
func (d *Definition) DisplayName() string             { return "Plaid" }
func (d *Definition) Provider() string                { return Name }
func (d *Definition) AuthFlow() registry.AuthFlow     { return registry.AuthFlowPublicToken }
func (d *Definition) Authorizer() registry.Authorizer { return &authorizer{d: d} }
func (d *Definition) Tools() []schema.ToolDefinition  { return tools }

func (d *Definition) Metadata() map[string]string {
	return map[string]string{"vendor": "plaid", "category": "banking"}
}

func (d *Definition) Invoke(ctx context.Context, inv registry.Invocation) (any, error) {
	switch inv.Function {
	case "getAccounts":
		return d.client.GetAccounts(ctx, inv.AccessToken)
	case "getBalances":
		return d.client.GetBalances(ctx, inv.AccessToken, stringSlice(inv.Array("accountIds")))
	case "getTransactions":
		return d.client.GetTransactions(ctx, inv.AccessToken, TransactionsRequest{
			StartDate:  inv.String("startDate"),
			EndDate:    inv.String("endDate"),
			AccountIDs: stringSlice(inv.Array("accountIds")),
			Count:      inv.Int("count", defaultTransactionCount),
			Offset:     inv.Int("offset", 0),
		})
	default:
		return nil, fmt.Errorf("%w: %s.%s", registry.ErrToolNotFound, Name, inv.Function)
	}
}

// authorizer implements the link and exchange halves of the public-token
// flow. Plaid access tokens do not expire, so it does not refresh.
type authorizer struct {
	d *Definition
}

func (a *authorizer) LinkToken(ctx context.Context, userID string) (string, error) {
	req := a.d.link
	req.UserID = userID
	return a.d.client.CreateLinkToken(ctx, req)
}

func (a *authorizer) Exchange(ctx context.Context, publicToken string) (provider.Token, error) {
	accessToken, err := a.d.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return provider.Token{}, err
	}
	return provider.Token{AccessToken: accessToken}, nil
}

func stringSlice(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
