package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goldilockshq/connector-hub/internal/config"
	"github.com/goldilockshq/connector-hub/internal/connectors/manager"
	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/schema"
	"github.com/labstack/echo/v5"
)

type fakeConnectors struct {
	connect     func(connector, userID string) (manager.ConnectResult, error)
	complete    func(connector, code, state string) error
	statuses    []manager.ConnectionStatus
	statusesErr error
	lastUser    string
}

func (f *fakeConnectors) Connect(_ context.Context, connector, userID string) (manager.ConnectResult, error) {
	return f.connect(connector, userID)
}

func (f *fakeConnectors) CompleteAuthorization(_ context.Context, connector, code, state string) error {
	return f.complete(connector, code, state)
}

func (f *fakeConnectors) ListStatuses(_ context.Context, userID string) ([]manager.ConnectionStatus, error) {
	f.lastUser = userID
	return f.statuses, f.statusesErr
}

type fakeTools map[string][]schema.ToolDefinition

func (f fakeTools) GetToolDefinitions(names []string) map[string][]schema.ToolDefinition {
	out := map[string][]schema.ToolDefinition{}
	for _, n := range names {
		if tools, ok := f[n]; ok {
			out[n] = tools
		}
	}
	return out
}

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return e
}

func serve(t *testing.T, h echo.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := newTestEcho()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(ContextKeyRequestID, "req-1")
	if err := h(c); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	return rec
}

func testHandlers(svc *fakeConnectors) *Handlers {
	return &Handlers{
		Cfg: config.Config{
			CallbackSuccessURL: "https://app.example.com/connected",
			CallbackErrorURL:   "https://app.example.com/connect-error?src=hub",
		},
		Connectors: svc,
		Tools: fakeTools{"sheets": {{
			FunctionName: "readValues",
			Description:  "Read values.",
			Parameters:   &schema.Node{Kind: schema.KindObject},
		}}},
	}
}

func TestConnectorAuthReturnsURL(t *testing.T) {
	t.Parallel()

	svc := &fakeConnectors{connect: func(connector, userID string) (manager.ConnectResult, error) {
		if connector != "sheets" || userID != "u1" {
			t.Errorf("Connect(%q, %q)", connector, userID)
		}
		return manager.ConnectResult{AuthURL: "https://accounts.example.com/auth?state=s", State: "s"}, nil
	}}
	rec := serve(t, testHandlers(svc).HandleConnectorAuth, http.MethodPost, "/connectors/auth", `{"connectorName":"sheets","userId":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["url"] != "https://accounts.example.com/auth?state=s" || got["linkToken"] != "" {
		t.Fatalf("body = %v", got)
	}
}

func TestConnectorAuthReturnsLinkToken(t *testing.T) {
	t.Parallel()

	svc := &fakeConnectors{connect: func(string, string) (manager.ConnectResult, error) {
		return manager.ConnectResult{LinkToken: "link-sandbox", State: "st"}, nil
	}}
	rec := serve(t, testHandlers(svc).HandleConnectorAuth, http.MethodPost, "/connectors/auth", `{"connectorName":"plaid","userId":"u1"}`)
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["linkToken"] != "link-sandbox" || got["state"] != "st" || got["url"] != "" {
		t.Fatalf("body = %v", got)
	}
}

func TestConnectorAuthErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "missing fields", body: `{"connectorName":"sheets"}`, want: http.StatusBadRequest},
		{name: "unknown connector", body: `{"connectorName":"calendar","userId":"u1"}`, err: fmt.Errorf("%w: calendar", registry.ErrConnectorNotFound), want: http.StatusNotFound},
		{name: "store down", body: `{"connectorName":"sheets","userId":"u1"}`, err: errors.New("redis: connection refused"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeConnectors{connect: func(string, string) (manager.ConnectResult, error) {
				return manager.ConnectResult{}, tc.err
			}}
			rec := serve(t, testHandlers(svc).HandleConnectorAuth, http.MethodPost, "/connectors/auth", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status=%d want %d", rec.Code, tc.want)
			}
			if strings.Contains(rec.Body.String(), "redis") {
				t.Fatalf("response leaked error details: %q", rec.Body.String())
			}
		})
	}
}

func TestCallbackRedirects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		query      string
		err        error
		wantPrefix string
		wantReason string
	}{
		{name: "success", query: "code=c1&state=s1", wantPrefix: "https://app.example.com/connected"},
		{name: "bad state", query: "code=c1&state=s1", err: &manager.AuthorizationError{Reason: manager.ReasonInvalidState}, wantPrefix: "https://app.example.com/connect-error", wantReason: "invalid_state"},
		{name: "expired", query: "code=c1&state=s1", err: &manager.AuthorizationError{Reason: manager.ReasonExpiredState}, wantPrefix: "https://app.example.com/connect-error", wantReason: "expired_state"},
		{name: "internal", query: "code=c1&state=s1", err: errors.New("pq: timeout"), wantPrefix: "https://app.example.com/connect-error", wantReason: "internal_error"},
		{name: "denied", query: "error=access_denied&state=s1", wantPrefix: "https://app.example.com/connect-error", wantReason: "access_denied"},
		{name: "no code", query: "state=s1", wantPrefix: "https://app.example.com/connect-error", wantReason: "exchange_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeConnectors{complete: func(connector, code, state string) error {
				if connector != "" || code != "c1" || state != "s1" {
					t.Errorf("CompleteAuthorization(%q, %q, %q)", connector, code, state)
				}
				return tc.err
			}}
			rec := serve(t, testHandlers(svc).HandleConnectorCallback, http.MethodGet, "/connectors/callback?"+tc.query, "")
			if rec.Code != http.StatusFound {
				t.Fatalf("status=%d want %d", rec.Code, http.StatusFound)
			}
			loc := rec.Header().Get("Location")
			if !strings.HasPrefix(loc, tc.wantPrefix) {
				t.Fatalf("Location=%q want prefix %q", loc, tc.wantPrefix)
			}
			u, err := url.Parse(loc)
			if err != nil {
				t.Fatalf("parse location: %v", err)
			}
			if got := u.Query().Get("reason"); got != tc.wantReason {
				t.Fatalf("reason=%q want %q", got, tc.wantReason)
			}
			if tc.wantReason != "" && u.Query().Get("src") != "hub" {
				t.Fatalf("existing query dropped from %q", loc)
			}
			if strings.Contains(loc, "pq") {
				t.Fatalf("redirect leaked error details: %q", loc)
			}
		})
	}
}

func TestExchange(t *testing.T) {
	t.Parallel()

	svc := &fakeConnectors{complete: func(connector, code, state string) error {
		if connector != "plaid" || code != "public-1" || state != "st" {
			return &manager.AuthorizationError{Reason: manager.ReasonConnectorMismatch}
		}
		return nil
	}}
	h := testHandlers(svc)

	rec := serve(t, h.HandleConnectorExchange, http.MethodPost, "/connectors/exchange", `{"connectorName":"plaid","publicToken":"public-1","state":"st"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"connected":true`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = serve(t, h.HandleConnectorExchange, http.MethodPost, "/connectors/exchange", `{"connectorName":"sheets","publicToken":"public-1","state":"st"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "connector_mismatch") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestFunctionSchemasOmitsUnknown(t *testing.T) {
	t.Parallel()

	rec := serve(t, testHandlers(&fakeConnectors{}).HandleFunctionSchemas, http.MethodPost, "/connectors/list/func-schema", `{"connectorNames":["sheets","nope"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var got struct {
		FunctionSchemas map[string][]struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"functionSchemas"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.FunctionSchemas) != 1 {
		t.Fatalf("functionSchemas = %+v", got.FunctionSchemas)
	}
	fns := got.FunctionSchemas["sheets"]
	if len(fns) != 1 || fns[0].Type != "function" || fns[0].Function.Name != "sheets__readValues" {
		t.Fatalf("sheets schemas = %+v", fns)
	}
}

func TestListConnectors(t *testing.T) {
	t.Parallel()

	svc := &fakeConnectors{statuses: []manager.ConnectionStatus{
		{ConnectorID: registry.ConnectorID("sheets"), Connector: "sheets", IsConnected: true, IsAuthenticated: true, State: manager.StateAuthenticated},
	}}
	h := testHandlers(svc)

	rec := serve(t, h.HandleListConnectors, http.MethodGet, "/connectors/list", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user_id status=%d", rec.Code)
	}

	rec = serve(t, h.HandleListConnectors, http.MethodGet, "/connectors/list?user_id=u9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if svc.lastUser != "u9" {
		t.Fatalf("ListStatuses user = %q", svc.lastUser)
	}
	var got struct {
		ActivatedConnectors []manager.ConnectionStatus `json:"activatedConnectors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.ActivatedConnectors) != 1 || got.ActivatedConnectors[0].State != manager.StateAuthenticated {
		t.Fatalf("body = %+v", got)
	}
}

func TestRenderErrorIsGeneric(t *testing.T) {
	t.Parallel()

	svc := &fakeConnectors{statusesErr: errors.New("vault sealed")}
	rec := serve(t, testHandlers(svc).HandleListConnectors, http.MethodGet, "/connectors/list?user_id=u1", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "vault") {
		t.Fatalf("body leaked error details: %q", body)
	}
	var got ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := (ErrorResponse{Error: "Internal server error", Reference: "req-1", Code: InternalErrorCode}); got != want {
		t.Fatalf("body = %+v, want %+v", got, want)
	}
}
