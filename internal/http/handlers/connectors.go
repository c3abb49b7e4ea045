package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/goldilockshq/connector-hub/internal/agent"
	"github.com/goldilockshq/connector-hub/internal/connectors/manager"
	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/schema"
	"github.com/labstack/echo/v5"
)

type connectRequest struct {
	ConnectorName string `json:"connectorName"`
	UserID        string `json:"userId"`
}

type connectResponse struct {
	URL       string `json:"url,omitempty"`
	LinkToken string `json:"linkToken,omitempty"`
	State     string `json:"state,omitempty"`
}

type exchangeRequest struct {
	ConnectorName string `json:"connectorName"`
	PublicToken   string `json:"publicToken"`
	State         string `json:"state"`
}

type funcSchemaRequest struct {
	ConnectorNames []string `json:"connectorNames"`
}

type funcSchemaResponse struct {
	FunctionSchemas map[string][]schema.FunctionSchema `json:"functionSchemas"`
}

type listResponse struct {
	ActivatedConnectors []manager.ConnectionStatus `json:"activatedConnectors"`
}

// HandleConnectorAuth starts an authorization. Redirect connectors answer
// with the provider URL; public-token connectors with a link token and the
// state to send back to /connectors/exchange.
func (h *Handlers) HandleConnectorAuth(c *echo.Context) error {
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ConnectorName) == "" || strings.TrimSpace(req.UserID) == "" {
		return jsonError(c, http.StatusBadRequest, "connectorName and userId are required")
	}

	res, err := h.Connectors.Connect(c.Request().Context(), req.ConnectorName, req.UserID)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrConnectorNotFound):
		return jsonError(c, http.StatusNotFound, "unknown connector")
	case errors.Is(err, manager.ErrUserRequired):
		return jsonError(c, http.StatusBadRequest, "userId is required")
	default:
		return h.RenderError(c, err)
	}

	if res.AuthURL != "" {
		return c.JSON(http.StatusOK, connectResponse{URL: res.AuthURL})
	}
	return c.JSON(http.StatusOK, connectResponse{LinkToken: res.LinkToken, State: res.State})
}

// HandleConnectorCallback completes an OAuth redirect. The browser is always
// redirected; tokens never appear in the response.
func (h *Handlers) HandleConnectorCallback(c *echo.Context) error {
	if providerErr := strings.TrimSpace(c.QueryParam("error")); providerErr != "" {
		c.Logger().Warn("provider denied authorization", "error", providerErr)
		return c.Redirect(http.StatusFound, withQuery(h.Cfg.CallbackErrorURL, "reason", "access_denied"))
	}
	code := c.QueryParam("code")
	if code == "" {
		return c.Redirect(http.StatusFound, withQuery(h.Cfg.CallbackErrorURL, "reason", string(manager.ReasonExchangeFailed)))
	}

	err := h.Connectors.CompleteAuthorization(c.Request().Context(), "", code, c.QueryParam("state"))
	if err != nil {
		var authErr *manager.AuthorizationError
		if errors.As(err, &authErr) {
			return c.Redirect(http.StatusFound, withQuery(h.Cfg.CallbackErrorURL, "reason", string(authErr.Reason)))
		}
		requestID, _ := c.Get(ContextKeyRequestID).(string)
		c.Logger().Error("authorization callback failed", "request_id", requestID, "error", err)
		return c.Redirect(http.StatusFound, withQuery(h.Cfg.CallbackErrorURL, "reason", "internal_error"))
	}
	return c.Redirect(http.StatusFound, h.Cfg.CallbackSuccessURL)
}

// HandleConnectorExchange completes a public-token authorization.
func (h *Handlers) HandleConnectorExchange(c *echo.Context) error {
	var req exchangeRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ConnectorName) == "" || req.PublicToken == "" || req.State == "" {
		return jsonError(c, http.StatusBadRequest, "connectorName, publicToken and state are required")
	}

	err := h.Connectors.CompleteAuthorization(c.Request().Context(), req.ConnectorName, req.PublicToken, req.State)
	if err != nil {
		var authErr *manager.AuthorizationError
		if errors.As(err, &authErr) {
			return jsonError(c, http.StatusBadRequest, string(authErr.Reason))
		}
		return h.RenderError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"connected": true})
}

// HandleFunctionSchemas lists the function-calling schemas of the named
// connectors. Unknown names are left out.
func (h *Handlers) HandleFunctionSchemas(c *echo.Context) error {
	var req funcSchemaRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, funcSchemaResponse{
		FunctionSchemas: agent.FunctionSchemas(h.Tools, req.ConnectorNames),
	})
}

// HandleListConnectors reports the connection state of every connector for
// one user.
func (h *Handlers) HandleListConnectors(c *echo.Context) error {
	userID := strings.TrimSpace(c.QueryParam("user_id"))
	if userID == "" {
		return jsonError(c, http.StatusBadRequest, "user_id is required")
	}
	statuses, err := h.Connectors.ListStatuses(c.Request().Context(), userID)
	if err != nil {
		return h.RenderError(c, err)
	}
	return c.JSON(http.StatusOK, listResponse{ActivatedConnectors: statuses})
}

func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
