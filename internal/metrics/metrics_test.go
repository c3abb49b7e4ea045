package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStatusClass(t *testing.T) {
	t.Parallel()

	cases := map[int]string{0: "error", -1: "error", 200: "2xx", 204: "2xx", 429: "4xx", 503: "5xx"}
	for in, want := range cases {
		if got := StatusClass(in); got != want {
			t.Fatalf("StatusClass(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestStartServerDisabled(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"", "off", "Disabled", "false"} {
		srv, errCh := StartServer(context.Background(), addr)
		if srv != nil || errCh != nil {
			t.Fatalf("StartServer(%q) should be disabled", addr)
		}
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }
	logger := slog.New(slog.DiscardHandler)

	cases := []struct {
		name     string
		opts     []ServerOption
		wantCode int
		wantBody string
	}{
		{name: "no checks", wantCode: http.StatusOK, wantBody: "ok\n"},
		{name: "all pass", opts: []ServerOption{WithReadinessCheck("db", ok), WithReadinessCheck("cache", nil)}, wantCode: http.StatusOK, wantBody: "ok\n"},
		{
			name:     "failures are listed in order",
			opts:     []ServerOption{WithReadinessCheck("zeta", down), WithReadinessCheck("db", ok), WithReadinessCheck("alpha", down)},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "not ready: alpha, zeta\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := Handler(append(tc.opts, WithServerLogger(logger))...)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.wantCode || rec.Body.String() != tc.wantBody {
				t.Fatalf("readyz = %d %q, want %d %q", rec.Code, rec.Body.String(), tc.wantCode, tc.wantBody)
			}
		})
	}
}

func TestMetricsRouteServesPrometheus(t *testing.T) {
	t.Parallel()

	TokenRefreshesTotal.WithLabelValues("sheets", "success").Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "token_refreshes_total") {
		t.Fatalf("metrics = %d, missing token_refreshes_total", rec.Code)
	}
}
