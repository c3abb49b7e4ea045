// Package sheets is the Google Sheets connector.
package sheets

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

const Name = "sheets"

//go:embed tools.yaml
var toolsYAML []byte

var tools = schema.MustLoadTools(toolsYAML)

var scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive.metadata.readonly",
}

type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RateLimit    int
	HTTPClient   *http.Client

	// Endpoint overrides, empty in production.
	AuthURL       string
	TokenURL      string
	SheetsBaseURL string
	DriveBaseURL  string
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
		client: NewClient(google.NewAPIClient(Name, httpOpts...), opts.SheetsBaseURL, opts.DriveBaseURL),
	}
}

func (d *Definition) Name() string {
	return Name
}

func (d *Definition) DisplayName() string {
	return "Google Sheets"
}

func (d *Definition) Provider() string {
	return Name
}

func (d *Definition) AuthFlow() registry.AuthFlow {
	return registry.AuthFlowOAuthRedirect
}

func (d *Definition) Authorizer() registry.Authorizer {
	return d.auth
}

func (d *Definition) Metadata() map[string]string {
	return map[string]string{
		"vendor":   "google",
		"category": "spreadsheets",
	}
}

func (d *Definition) Tools() []schema.ToolDefinition {
	return tools
}

func (d *Definition) Invoke(ctx context.Context, inv registry.Invocation) (any, error) {
	token := inv.AccessToken
	switch inv.Function {
	case "readValues":
		return d.client.ReadValues(ctx, token, inv.String("spreadsheetId"), inv.String("range"), inv.String("majorDimension"))
	case "appendValues":
		return d.client.AppendValues(ctx, token, inv.String("spreadsheetId"), inv.String("range"), inv.Array("values"), inv.String("valueInputOption"))
	case "updateValues":
		return d.client.UpdateValues(ctx, token, inv.String("spreadsheetId"), inv.String("range"), inv.Array("values"), inv.String("valueInputOption"))
	case "getSpreadsheet":
		return d.client.GetSpreadsheet(ctx, token, inv.String("spreadsheetId"))
	case "listSpreadsheets":
		return d.client.ListSpreadsheets(ctx, token, inv.String("nameContains"), inv.Int("limit", defaultListLimit))
	default:
		return nil, fmt.Errorf("%w: %s.%s", registry.ErrToolNotFound, Name, inv.Function)
	}
}
