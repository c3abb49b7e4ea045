// Package handlers contains the HTTP handlers of the connector API.
package handlers

import (
	"context"
	"net/http"

	"github.com/goldilockshq/connector-hub/internal/agent"
	"github.com/goldilockshq/connector-hub/internal/config"
	"github.com/goldilockshq/connector-hub/internal/connectors/manager"
	"github.com/labstack/echo/v5"
)

const (
	// ContextKeyRequestID stores the request id (X-Request-ID) for logging and client error references.
	ContextKeyRequestID = "request_id"

	// InternalErrorCode is a stable error code safe to return to clients.
	InternalErrorCode = "INTERNAL_ERROR"
)

// ConnectorService is the connect flow and status surface of the manager.
type ConnectorService interface {
	Connect(ctx context.Context, connector, userID string) (manager.ConnectResult, error)
	CompleteAuthorization(ctx context.Context, connector, code, state string) error
	ListStatuses(ctx context.Context, userID string) ([]manager.ConnectionStatus, error)
}

// Handlers groups all HTTP handlers and shared dependencies.
type Handlers struct {
	Cfg        config.Config
	Connectors ConnectorService
	Tools      agent.ToolLister
}

// HandleHealthz returns a simple health check response.
func (h *Handlers) HandleHealthz(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// RenderError logs err and returns a generic 500 that carries only the
// request reference.
func (h *Handlers) RenderError(c *echo.Context, err error) error {
	requestID, _ := c.Get(ContextKeyRequestID).(string)
	path := ""
	if req := c.Request(); req != nil && req.URL != nil {
		path = req.URL.Path
	}
	method := ""
	if req := c.Request(); req != nil {
		method = req.Method
	}
	c.Logger().Error("http error",
		"request_id", requestID,
		"method", method,
		"path", path,
		"ip", c.RealIP(),
		"error", err,
	)

	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:     "Internal server error",
		Reference: requestID,
		Code:      InternalErrorCode,
	})
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Reference string `json:"reference,omitempty"`
	Code      string `json:"code,omitempty"`
}

// RenderNotFound returns a 404 response.
func RenderNotFound(c *echo.Context) error {
	return jsonError(c, http.StatusNotFound, "not found")
}

// RenderStatus answers with the standard text for status and nothing else.
func RenderStatus(c *echo.Context, status int) error {
	return jsonError(c, status, http.StatusText(status))
}

func jsonError(c *echo.Context, status int, msg string) error {
	return c.JSON(status, ErrorResponse{Error: msg})
}
