package google

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goldilockshq/connector-hub/internal/provider"
)

func TestNormalizeScopes(t *testing.T) {
	t.Parallel()

	got := NormalizeScopes([]string{" scope.a ", "scope.b", "scope.a", ""})
	if len(got) != 2 {
		t.Fatalf("len(NormalizeScopes()) = %d, want 2", len(got))
	}
	if got[0] != "scope.a" || got[1] != "scope.b" {
		t.Fatalf("NormalizeScopes() = %#v, want [scope.a scope.b]", got)
	}
}

func TestDecodeError(t *testing.T) {
	t.Parallel()

	code, msg := DecodeError(404, []byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))
	if code != "NOT_FOUND" || msg != "Requested entity was not found." {
		t.Fatalf("DecodeError() = %q, %q", code, msg)
	}
	if code, msg := DecodeError(500, []byte("<html>")); code != "" || msg != "" {
		t.Fatalf("DecodeError(html) = %q, %q, want empty", code, msg)
	}
}

func TestListPagedFollowsPageTokens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
			t.Errorf("authorization header = %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "trashed=false" {
			t.Errorf("q = %q, want trashed=false", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = io.WriteString(w, `{"files":[{"id":"f1"}],"nextPageToken":"p2"}`)
		case "p2":
			_, _ = io.WriteString(w, `{"files":[{"id":"f2"}]}`)
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
	}))
	defer server.Close()

	client := NewAPIClient("drive", provider.WithHTTPClient(server.Client()))
	items, err := ListPaged(context.Background(), client, "access-token", server.URL+"/files", "files", url.Values{"q": {"trashed=false"}}, 0)
	if err != nil {
		t.Fatalf("ListPaged() error = %v", err)
	}
	if len(items) != 2 || calls.Load() != 2 {
		t.Fatalf("items = %v, calls = %d", items, calls.Load())
	}

	limited, err := ListPaged(context.Background(), client, "access-token", server.URL+"/files", "files", url.Values{"q": {"trashed=false"}}, 1)
	if err != nil {
		t.Fatalf("ListPaged(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("len(limited) = %d, want 1", len(limited))
	}
}

func TestAPIClientDecodesGoogleErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`)
	}))
	defer server.Close()

	client := NewAPIClient("sheets", provider.WithHTTPClient(server.Client()))
	err := client.DoJSON(context.Background(), provider.Request{Method: http.MethodGet, URL: server.URL}, nil)
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *provider.Error", err)
	}
	if pe.Code != "PERMISSION_DENIED" || !strings.Contains(pe.Message, "permission") {
		t.Fatalf("error = %+v", pe)
	}
}

func TestNewOAuthOverridesEndpoints(t *testing.T) {
	t.Parallel()

	o := NewOAuth("docs", OAuthOptions{
		ClientID: "client",
		Scopes:   []string{"scope.a", "scope.a"},
		AuthURL:  "https://auth.test/authorize",
	})
	u, err := url.Parse(o.AuthURL("s"))
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Host != "auth.test" || u.Query().Get("scope") != "scope.a" {
		t.Fatalf("AuthURL() = %s", u)
	}
}
