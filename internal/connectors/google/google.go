// Package google holds the OAuth and REST plumbing shared by the Google
// Workspace connectors.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goldilockshq/connector-hub/internal/provider"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

const (
	DefaultSheetsBaseURL = "https://sheets.googleapis.com/v4"
	DefaultDocsBaseURL   = "https://docs.googleapis.com/v1"
	DefaultDriveBaseURL  = "https://www.googleapis.com/drive/v3"

	maxPages = 20
)

// OAuthOptions configures the authorization-code flow for one connector.
// AuthURL and TokenURL override Google's endpoints in tests.
type OAuthOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	HTTPClient   *http.Client
}

// NewOAuth builds the authorizer for a Google connector.
func NewOAuth(name string, opts OAuthOptions) *provider.OAuth2 {
	endpoint := googleoauth.Endpoint
	if v := strings.TrimSpace(opts.AuthURL); v != "" {
		endpoint.AuthURL = v
	}
	if v := strings.TrimSpace(opts.TokenURL); v != "" {
		endpoint.TokenURL = v
	}
	return provider.NewOAuth2(name, &oauth2.Config{
		ClientID:     strings.TrimSpace(opts.ClientID),
		ClientSecret: strings.TrimSpace(opts.ClientSecret),
		RedirectURL:  opts.RedirectURL,
		Scopes:       NormalizeScopes(opts.Scopes),
		Endpoint:     endpoint,
	}, opts.HTTPClient)
}

// NewAPIClient builds a JSON client that understands Google error bodies.
func NewAPIClient(name string, opts ...provider.HTTPClientOption) *provider.HTTPClient {
	opts = append([]provider.HTTPClientOption{provider.WithErrorDecoder(DecodeError)}, opts...)
	return provider.NewHTTPClient(name, opts...)
}

// DecodeError reads Google's {"error":{"code","message","status"}} envelope.
func DecodeError(_ int, body []byte) (string, string) {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Error.Status, payload.Error.Message
}

func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}

// BaseURL trims a configured base URL, falling back to def.
func BaseURL(configured, def string) string {
	v := strings.TrimRight(strings.TrimSpace(configured), "/")
	if v == "" {
		return def
	}
	return v
}

// ListPaged follows nextPageToken and collects the array under key. It stops
// after limit items (0 means no limit) or a fixed page cap.
func ListPaged(ctx context.Context, client *provider.HTTPClient, accessToken, endpoint, key string, values url.Values, limit int) ([]any, error) {
	all := make([]any, 0)
	nextPageToken := ""

	for page := 0; page < maxPages; page++ {
		query := cloneURLValues(values)
		if nextPageToken != "" {
			query.Set("pageToken", nextPageToken)
		}
		requestURL := endpoint
		if encoded := query.Encode(); encoded != "" {
			requestURL += "?" + encoded
		}

		var payload map[string]any
		err := client.DoJSON(ctx, provider.Request{
			Method:      http.MethodGet,
			URL:         requestURL,
			BearerToken: accessToken,
			Idempotent:  true,
		}, &payload)
		if err != nil {
			return nil, err
		}

		items, _ := payload[key].([]any)
		all = append(all, items...)
		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}

		next, _ := payload["nextPageToken"].(string)
		nextPageToken = strings.TrimSpace(next)
		if nextPageToken == "" {
			return all, nil
		}
	}
	return nil, fmt.Errorf("list %s: more than %d pages", key, maxPages)
}

func cloneURLValues(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	return out
}
