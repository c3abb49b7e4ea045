package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// OAuth2 performs the authorization-code and refresh exchanges for one provider.
type OAuth2 struct {
	name string
	cfg  *oauth2.Config
	http *http.Client
}

// NewOAuth2 wraps cfg. httpClient may be nil to use http.DefaultClient.
func NewOAuth2(name string, cfg *oauth2.Config, httpClient *http.Client) *OAuth2 {
	return &OAuth2{name: name, cfg: cfg, http: httpClient}
}

// AuthURL builds the consent URL. Offline access with forced approval makes
// the provider issue a refresh token on every grant.
func (o *OAuth2) AuthURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (o *OAuth2) Exchange(ctx context.Context, code string) (Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Token{}, &Error{Provider: o.name, Status: http.StatusBadRequest, Code: "invalid_request", Message: "authorization code is empty"}
	}
	tok, err := o.cfg.Exchange(o.withClient(ctx), code)
	if err != nil {
		return Token{}, o.mapError(err)
	}
	return FromOAuth2(tok), nil
}

// Refresh redeems refreshToken. When the provider does not rotate the refresh
// token the returned Token carries the one that was sent.
func (o *OAuth2) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Token{}, &Error{Provider: o.name, Status: http.StatusBadRequest, Code: "invalid_grant", Message: "refresh token is empty"}
	}
	src := o.cfg.TokenSource(o.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Token{}, o.mapError(err)
	}
	return FromOAuth2(tok), nil
}

func (o *OAuth2) withClient(ctx context.Context) context.Context {
	if o.http == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.http)
}

func (o *OAuth2) mapError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		msg := re.ErrorDescription
		if msg == "" {
			msg = snippet(re.Body)
		}
		return &Error{
			Provider:  o.name,
			Status:    status,
			Code:      re.ErrorCode,
			Message:   msg,
			Retryable: RetryableStatus(status),
			Err:       err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return AsTimeout(o.name, err)
	}
	return &Error{Provider: o.name, Retryable: true, Err: err}
}
