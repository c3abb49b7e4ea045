package httpapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goldilockshq/connector-hub/internal/agent"
	"github.com/goldilockshq/connector-hub/internal/config"
	"github.com/goldilockshq/connector-hub/internal/http/authn"
	"github.com/goldilockshq/connector-hub/internal/http/handlers"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h *handlers.Handlers
	e *echo.Echo
}

// NewEchoServer creates a new HTTP server. A nil verifier leaves the API
// routes open and is only accepted in dev mode.
func NewEchoServer(cfg config.Config, logger *slog.Logger, connectors handlers.ConnectorService, tools agent.ToolLister, verifier authn.Verifier) (*EchoServer, error) {
	if verifier == nil && !cfg.DevMode {
		return nil, errors.New("an api key verifier is required outside dev mode")
	}
	h := &handlers.Handlers{Cfg: cfg, Connectors: connectors, Tools: tools}
	es := &EchoServer{h: h, e: echo.New()}
	if logger != nil {
		es.e.Logger = logger
	}
	es.e.HTTPErrorHandler = es.httpErrorHandler
	es.e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c *echo.Context, id string) {
			c.Set(handlers.ContextKeyRequestID, id)
		},
	}))
	es.e.Use(middleware.Recover())
	es.registerRoutes(verifier)
	return es, nil
}

func (es *EchoServer) registerRoutes(verifier authn.Verifier) {
	es.e.GET("/healthz", es.h.HandleHealthz)
	// Providers redirect the browser here, so it cannot carry an API key; the
	// signed state authenticates it.
	es.e.GET("/connectors/callback", es.h.HandleConnectorCallback)

	api := es.e.Group("/connectors")
	if verifier != nil {
		api.Use(authn.RequireAPIKey(verifier))
	} else {
		es.e.Logger.Warn("api key authentication disabled (dev mode)")
	}
	api.POST("/auth", es.h.HandleConnectorAuth)
	api.POST("/exchange", es.h.HandleConnectorExchange)
	api.POST("/list/func-schema", es.h.HandleFunctionSchemas)
	api.GET("/list", es.h.HandleListConnectors)
}

// Handler exposes the router for tests and custom servers.
func (es *EchoServer) Handler() http.Handler {
	return es.e
}

// StartServer serves on server until it is shut down.
func (es *EchoServer) StartServer(server *http.Server) error {
	server.Handler = es.e
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (es *EchoServer) httpErrorHandler(c *echo.Context, err error) {
	status := httpStatusFromError(err)
	var writeErr error
	switch {
	case status == http.StatusNotFound:
		writeErr = handlers.RenderNotFound(c)
	case status >= http.StatusInternalServerError:
		writeErr = es.h.RenderError(c, err)
	default:
		writeErr = handlers.RenderStatus(c, status)
	}
	if writeErr != nil {
		c.Logger().Error("write error response", "error", writeErr)
	}
}

func httpStatusFromError(err error) int {
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		if code := coder.StatusCode(); code >= 400 && code < 600 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// Shutdown gracefully shuts down server.
func Shutdown(ctx context.Context, server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
