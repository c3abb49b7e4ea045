// Package provider holds the plumbing shared by connectors that talk to
// third-party APIs: token exchange results, a rate-limited JSON HTTP client
// with bounded retry, and structured provider errors.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Token is the result of a code exchange or refresh. An empty RefreshToken
// means the provider did not issue or rotate one.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// FromOAuth2 converts an oauth2 token. A zero Expiry maps to no expiry.
func FromOAuth2(t *oauth2.Token) Token {
	if t == nil {
		return Token{}
	}
	out := Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	if !t.Expiry.IsZero() {
		exp := t.Expiry.UTC()
		out.ExpiresAt = &exp
	}
	return out
}

// ErrRefreshUnsupported is returned by providers whose grants cannot be refreshed.
var ErrRefreshUnsupported = errors.New("provider does not support token refresh")

// Error is a failed provider call. Status is the HTTP status (0 when no
// response arrived) and Code is the provider's own error code when it sent one.
type Error struct {
	Provider  string
	Status    int
	Code      string
	Message   string
	Retryable bool
	Timeout   bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s request timed out", e.Provider)
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s request failed: status=%d code=%s %s", e.Provider, e.Status, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s request failed: status=%d %s", e.Provider, e.Status, e.Message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryableStatus reports whether a status is worth one more attempt.
func RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// AsTimeout converts a context deadline into a timeout Error. Other errors pass through.
func AsTimeout(providerName string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: providerName, Timeout: true, Retryable: true, Err: err}
	}
	return err
}
