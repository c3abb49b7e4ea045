package docs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/goldilockshq/connector-hub/internal/connectors/google"
	"github.com/goldilockshq/connector-hub/internal/provider"
)

type Client struct {
	http *provider.HTTPClient
	base string
}

func NewClient(httpClient *provider.HTTPClient, baseURL string) *Client {
	return &Client{http: httpClient, base: google.BaseURL(baseURL, google.DefaultDocsBaseURL)}
}

type document struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	RevisionID string `json:"revisionId"`
	Body       struct {
		Content []structuralElement `json:"content"`
	} `json:"body"`
}

type structuralElement struct {
	Paragraph *struct {
		Elements []struct {
			TextRun *struct {
				Content string `json:"content"`
			} `json:"textRun"`
		} `json:"elements"`
	} `json:"paragraph"`
	Table *struct {
		TableRows []struct {
			TableCells []struct {
				Content []structuralElement `json:"content"`
			} `json:"tableCells"`
		} `json:"tableRows"`
	} `json:"table"`
}

// GetDocument returns the document's identity and the text of its body.
func (c *Client) GetDocument(ctx context.Context, accessToken, documentID string) (map[string]any, error) {
	var raw json.RawMessage
	err := c.http.DoJSON(ctx, provider.Request{
		Method:      http.MethodGet,
		URL:         c.base + "/documents/" + url.PathEscape(documentID),
		BearerToken: accessToken,
		Idempotent:  true,
	}, &raw)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &provider.Error{Provider: "docs", Status: http.StatusOK, Message: "malformed document body", Err: err}
	}

	var text strings.Builder
	writeText(&text, doc.Body.Content)
	return map[string]any{
		"documentId": doc.DocumentID,
		"title":      doc.Title,
		"revisionId": doc.RevisionID,
		"text":       text.String(),
	}, nil
}

func (c *Client) AppendText(ctx context.Context, accessToken, documentID, text string) (map[string]any, error) {
	body := map[string]any{
		"requests": []any{
			map[string]any{
				"insertText": map[string]any{
					"text":                 text,
					"endOfSegmentLocation": map[string]any{},
				},
			},
		},
	}
	var out map[string]any
	err := c.http.DoJSON(ctx, provider.Request{
		Method:      http.MethodPost,
		URL:         c.base + "/documents/" + url.PathEscape(documentID) + ":batchUpdate",
		BearerToken: accessToken,
		Body:        body,
	}, &out)
	return out, err
}

func (c *Client) CreateDocument(ctx context.Context, accessToken, title string) (map[string]any, error) {
	var out map[string]any
	err := c.http.DoJSON(ctx, provider.Request{
		Method:      http.MethodPost,
		URL:         c.base + "/documents",
		BearerToken: accessToken,
		Body:        map[string]any{"title": title},
	}, &out)
	return out, err
}

func writeText(b *strings.Builder, content []structuralElement) {
	for _, el := range content {
		if el.Paragraph != nil {
			for _, pe := range el.Paragraph.Elements {
				if pe.TextRun != nil {
					b.WriteString(pe.TextRun.Content)
				}
			}
		}
		if el.Table != nil {
			for _, row := range el.Table.TableRows {
				for _, cell := range row.TableCells {
					writeText(b, cell.Content)
				}
			}
		}
	}
}
