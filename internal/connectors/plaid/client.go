package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goldilockshq/connector-hub/internal/provider"
)

const (
	EnvSandbox     = "sandbox"
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultTransactionCount = 100
	maxTransactionCount     = 500
)

var baseURLs = map[string]string{
	EnvSandbox:     "https://sandbox.plaid.com",
	EnvDevelopment: "https://development.plaid.com",
	EnvProduction:  "https://production.plaid.com",
}

// BaseURLForEnv resolves a Plaid environment name to its API host.
func BaseURLForEnv(env string) (string, error) {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		env = EnvSandbox
	}
	u, ok := baseURLs[env]
	if !ok {
		return "", fmt.Errorf("unknown plaid environment %q", env)
	}
	return u, nil
}

// Client calls the Plaid API. Every request carries the client credentials in
// its JSON body.
type Client struct {
	http     *provider.HTTPClient
	baseURL  string
	clientID string
	secret   string
}

func NewClient(httpClient *provider.HTTPClient, baseURL, clientID, secret string) *Client {
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
	}
}

// DecodeError reads Plaid's error body.
func DecodeError(_ int, body []byte) (string, string) {
	var payload struct {
		ErrorType    string `json:"error_type"`
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.ErrorCode, payload.ErrorMessage
}

type LinkTokenRequest struct {
	UserID       string
	ClientName   string
	Products     []string
	CountryCodes []string
	Language     string
}

func (c *Client) CreateLinkToken(ctx context.Context, req LinkTokenRequest) (string, error) {
	var out struct {
		LinkToken string `json:"link_token"`
	}
	err := c.post(ctx, "/link/token/create", map[string]any{
		"client_name":   req.ClientName,
		"user":          map[string]any{"client_user_id": req.UserID},
		"products":      req.Products,
		"country_codes": req.CountryCodes,
		"language":      req.Language,
	}, false, &out)
	if err != nil {
		return "", err
	}
	if out.LinkToken == "" {
		return "", errors.New("plaid returned an empty link token")
	}
	return out.LinkToken, nil
}

// ExchangePublicToken trades the widget's public token for a long-lived access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}
	if err := c.post(ctx, "/item/public_token/exchange", map[string]any{"public_token": publicToken}, false, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("plaid returned an empty access token")
	}
	return out.AccessToken, nil
}

func (c *Client) GetAccounts(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/accounts/get", map[string]any{"access_token": accessToken}, true, &out)
	return out, err
}

func (c *Client) GetBalances(ctx context.Context, accessToken string, accountIDs []string) (map[string]any, error) {
	body := map[string]any{"access_token": accessToken}
	if len(accountIDs) > 0 {
		body["options"] = map[string]any{"account_ids": accountIDs}
	}
	var out map[string]any
	err := c.post(ctx, "/accounts/balance/get", body, true, &out)
	return out, err
}

type TransactionsRequest struct {
	StartDate  string
	EndDate    string
	AccountIDs []string
	Count      int
	Offset     int
}

func (c *Client) GetTransactions(ctx context.Context, accessToken string, req TransactionsRequest) (map[string]any, error) {
	for _, d := range []string{req.StartDate, req.EndDate} {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, &provider.Error{Provider: Name, Status: http.StatusBadRequest, Code: "INVALID_FIELD", Message: fmt.Sprintf("date %q is not YYYY-MM-DD", d)}
		}
	}
	count := req.Count
	if count <= 0 {
		count = defaultTransactionCount
	}
	options := map[string]any{
		"count":  min(count, maxTransactionCount),
		"offset": max(req.Offset, 0),
	}
	if len(req.AccountIDs) > 0 {
		options["account_ids"] = req.AccountIDs
	}
	var out map[string]any
	err := c.post(ctx, "/transactions/get", map[string]any{
		"access_token": accessToken,
		"start_date":   req.StartDate,
		"end_date":     req.EndDate,
		"options":      options,
	}, true, &out)
	return out, err
}

// post sends a Plaid request. Read endpoints are safe to repeat, so they are
// marked idempotent even though Plaid uses POST for them.
func (c *Client) post(ctx context.Context, path string, body map[string]any, idempotent bool, out any) error {
	body["client_id"] = c.clientID
	body["secret"] = c.secret
	return c.http.DoJSON(ctx, provider.Request{
		Method:     http.MethodPost,
		URL:        c.baseURL + path,
		Body:       body,
		Headers:    map[string]string{"Plaid-Version": "2020-09-14"},
		Idempotent: idempotent,
	}, out)
}
