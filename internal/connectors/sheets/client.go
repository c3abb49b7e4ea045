package sheets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goldilockshq/connector-hub/internal/connectors/google"
	"github.com/goldilockshq/connector-hub/internal/provider"
)

const (
	spreadsheetMimeType  = "application/vnd.google-apps.spreadsheet"
	defaultListLimit     = 25
	defaultValueInputOpt = "USER_ENTERED"
)

// Client calls the Sheets v4 and Drive v3 REST APIs with a user's access token.
// Responses are returned as decoded JSON so the tool schema decides what the
// model sees.
type Client struct {
	http       *provider.HTTPClient
	sheetsBase string
	driveBase  string
}

func NewClient(httpClient *provider.HTTPClient, sheetsBaseURL, driveBaseURL string) *Client {
	return &Client{
		http:       httpClient,
		sheetsBase: google.BaseURL(sheetsBaseURL, google.DefaultSheetsBaseURL),
		driveBase:  google.BaseURL(driveBaseURL, google.DefaultDriveBaseURL),
	}
}

func (c *Client) ReadValues(ctx context.Context, accessToken, spreadsheetID, a1Range, majorDimension string) (map[string]any, error) {
	query := url.Values{}
	query.Set("valueRenderOption", "FORMATTED_VALUE")
	if majorDimension != "" {
		query.Set("majorDimension", majorDimension)
	}
	var out map[string]any
	err := c.http.DoJSON(ctx, provider.Request{
		Method:      http.MethodGet,
		URL:         c.valuesURL(spreadsheetID, a1Range, "") + "?" + query.Encode(),
		BearerToken: accessToken,
		Idempotent:  true,
	}, &out)
	return out, err
}

func (c *Client) AppendValues(ctx context.Context, accessToken, spreadsheetID, a1Range string, values []any, valueInputOption string) (map[string]any, error) {
	query := url.Values{}
	query.Set("valueInputOption", valueInputOrDefault(valueInputOption))
	query.Set("insertDataOption", "INSERT_ROWS")
	var out map[string]any
	err := c.http.DoJSON(ctx, provider.Request{
		Method:      http.MethodPost,
		URL:         c.valuesURL(spreadsheetID, a1Range, ":append") + "?" + query.Encode(),
		BearerToken: accessToken,
		Body:        map[string]any{"range": a1Range, "majorDimension": "ROWS", "values": values},
	}, &out)
	return out, err
}

// UpdateValues overwrites a range. Writes are never retried.
func (c *Client) UpdateValues(ctx context.Context, accessToken, spreadsheetID, a1Range string, values []any, valueInputOption string) (map[string]any, error) {
	query := url.Values{}
	query.Set("valueInputOption", valueInputOrDefault(valueInputOption))
	var out map[string]any
	err := c.http.DoJSON(ctx, provider.Request{
		Method:      http.MethodPut,
		URL:         c.valuesURL(spreadsheetID, a1Range, "") + "?" + query.Encode(),
		BearerToken: accessToken,
		Body:        map[string]any{"range": a1Range, "majorDimension": "ROWS", "values": values},
	}, &out)
	return out, err
}

func (c *Client) GetSpreadsheet(ctx context.Context, accessToken, spreadsheetID string) (map[string]any, error) {
	query := url.Values{}
	query.Set("fields", "spreadsheetId,properties(title,locale,timeZone),sheets.properties(sheetId,title,index)")
	var out map[string]any
	err := c.http.DoJSON(ctx, provider.Request{
		Method:      http.MethodGet,
		URL:         c.sheetsBase + "/spreadsheets/" + url.PathEscape(spreadsheetID) + "?" + query.Encode(),
		BearerToken: accessToken,
		Idempotent:  true,
	}, &out)
	return out, err
}

func (c *Client) ListSpreadsheets(ctx context.Context, accessToken, nameContains string, limit int) (map[string]any, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := fmt.Sprintf("mimeType='%s' and trashed=false", spreadsheetMimeType)
	if nameContains = strings.TrimSpace(nameContains); nameContains != "" {
		q += fmt.Sprintf(" and name contains '%s'", escapeDriveQuery(nameContains))
	}
	query := url.Values{}
	query.Set("q", q)
	query.Set("orderBy", "modifiedTime desc")
	query.Set("fields", "nextPageToken,files(id,name,modifiedTime)")
	query.Set("pageSize", fmt.Sprint(min(limit, 100)))

	files, err := google.ListPaged(ctx, c.http, accessToken, c.driveBase+"/files", "files", query, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files}, nil
}

func (c *Client) valuesURL(spreadsheetID, a1Range, suffix string) string {
	return c.sheetsBase + "/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(a1Range) + suffix
}

func valueInputOrDefault(v string) string {
	if v == "" {
		return defaultValueInputOpt
	}
	return v
}

func escapeDriveQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
