// Package docs is the Google Docs connector.
package docs

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/goldilockshq/connector-hub/internal/connectors/google"
	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/provider"
	"github.com/goldilockshq/connector-hub/internal/schema"
)

const Name = "docs"

//go:embed tools.yaml
var toolsYAML []byte

var tools = schema.MustLoadTools(toolsYAML)

var scopes = []string{"https://www.googleapis.com/auth/documents"}

type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RateLimit    int
	HTTPClient   *http.Client

	AuthURL     string
	TokenURL    string
	DocsBaseURL string
}

type Definition struct {
	auth   *provider.OAuth2
	client *Client
}

func New(opts Options) *Definition {
	httpOpts := []provider.HTTPClientOption{provider.WithRateLimit(opts.RateLimit)}
	if opts.HTTPClient != nil {
		httpOpts = append(httpOpts, provider.WithHTTPClient(opts.HTTPClient))
	}
	return &Definition{
		auth: google.NewOAuth(Name, google.OAuthOptions{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       scopes,
			AuthURL:      opts.AuthURL,
			TokenURL:     opts.TokenURL,
			HTTPClient:   opts.HTTPClient,
		}),
		client: NewClient(google.NewAPIClient(Name, httpOpts...), opts.DocsBaseURL),
	}
}

func (d *Definition) Name() string                    { return Name }
func (d *Definition) DisplayName() string             { return "Google Docs" }
func (d *Definition) Provider() string                { return Name }
func (d *Definition) AuthFlow() registry.AuthFlow     { return registry.AuthFlowOAuthRedirect }
func (d *Definition) Authorizer() registry.Authorizer { return d.auth }
func (d *Definition) Tools() []schema.ToolDefinition  { return tools }

func (d *Definition) Metadata() map[string]string {
	return map[string]string{"vendor": "google", "category": "documents"}
}

func (d *Definition) Invoke(ctx context.Context, inv registry.Invocation) (any, error) {
	switch inv.Function {
	case "getDocument":
		return d.client.GetDocument(ctx, inv.AccessToken, inv.String("documentId"))
	case "appendText":
		return d.client.AppendText(ctx, inv.AccessToken, inv.String("documentId"), inv.String("text"))
	case "createDocument":
		return d.client.CreateDocument(ctx, inv.AccessToken, inv.String("title"))
	default:
		return nil, fmt.Errorf("%w: %s.%s", registry.ErrToolNotFound, Name, inv.Function)
	}
}
