package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	readinessTimeout         = 2 * time.Second
)

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

type serverOptions struct {
	checks map[string]ReadinessCheck
	logger *slog.Logger
}

type ServerOption func(*serverOptions)

// WithReadinessCheck adds a named check to /readyz. A nil check is ignored.
func WithReadinessCheck(name string, check ReadinessCheck) ServerOption {
	return func(o *serverOptions) {
		if check != nil {
			o.checks[name] = check
		}
	}
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// StartServer serves /metrics and /readyz on addr until ctx is done. Empty or
// off/disabled/false addr disables it.
func StartServer(ctx context.Context, addr string, opts ...ServerOption) (*http.Server, <-chan error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	switch strings.ToLower(addr) {
	case "off", "disabled", "false":
		return nil, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	o := buildOptions(opts)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(o),
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		o.logger.Info("metrics listening", "addr", addr, "readiness_checks", len(o.checks))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, errCh
}

// Handler returns the metrics listener's routes without starting it.
func Handler(opts ...ServerOption) http.Handler {
	return newMux(buildOptions(opts))
}

func buildOptions(opts []ServerOption) serverOptions {
	o := serverOptions{checks: map[string]ReadinessCheck{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newMux(o serverOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		var failed []string
		for name, check := range o.checks {
			if err := check(ctx); err != nil {
				o.logger.Warn("readiness check failed", "check", name, "error", err)
				failed = append(failed, name)
			}
		}
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			slices.Sort(failed)
			_, _ = w.Write([]byte("not ready: " + strings.Join(failed, ", ") + "\n"))
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
