// Package agent turns model tool calls into provider invocations.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goldilockshq/connector-hub/internal/connectors/registry"
	"github.com/goldilockshq/connector-hub/internal/metrics"
	"github.com/goldilockshq/connector-hub/internal/provider"
	"github.com/goldilockshq/connector-hub/internal/schema"
	"github.com/goldilockshq/connector-hub/internal/tokens"
)

const defaultProviderTimeout = 30 * time.Second

// Catalog is the part of the connector registry the dispatcher needs.
type Catalog interface {
	GetConnector(name string) (registry.Connector, error)
	Tool(connector, function string) (schema.ToolDefinition, bool)
	Invoke(ctx context.Context, connector string, inv registry.Invocation) (any, error)
	ToolLister
}

// Credentials resolves a usable access token for a user and provider.
type Credentials interface {
	GetValidCredential(ctx context.Context, userID, providerName string) (tokens.Pair, error)
}

type Call struct {
	Connector string
	Function  string
	Arguments map[string]any
	UserID    string
}

type Result struct {
	Connector string
	Function  string
	Output    any
}

type Dispatcher struct {
	catalog         Catalog
	credentials     Credentials
	providerTimeout time.Duration
	logger          *slog.Logger
}

type Option func(*Dispatcher)

func WithProviderTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.providerTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

func NewDispatcher(catalog Catalog, credentials Credentials, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:         catalog,
		credentials:     credentials,
		providerTimeout: defaultProviderTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one tool call. Every failure is a *DispatchError except caller
// cancellation, which is returned as the context's error.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (Result, error) {
	start := time.Now()
	res, err := d.dispatch(ctx, call)

	connectorLabel, functionLabel, outcome := res.Connector, res.Function, "success"
	var de *DispatchError
	switch {
	case errors.As(err, &de):
		connectorLabel, functionLabel, outcome = de.Connector, de.Function, string(de.Kind)
		if de.Kind == KindUnknownTool {
			connectorLabel, functionLabel = "unknown", "unknown"
		}
	case err != nil:
		connectorLabel, functionLabel, outcome = strings.ToLower(strings.TrimSpace(call.Connector)), call.Function, "canceled"
	}
	metrics.ToolDispatchesTotal.WithLabelValues(connectorLabel, functionLabel, outcome).Inc()
	metrics.ToolDispatchDuration.WithLabelValues(connectorLabel, functionLabel).Observe(time.Since(start).Seconds())
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call) (Result, error) {
	connector, err := d.catalog.GetConnector(call.Connector)
	if err != nil {
		return Result{}, &DispatchError{Kind: KindUnknownTool, Connector: call.Connector, Function: call.Function, Err: err}
	}
	tool, ok := d.catalog.Tool(connector.Name, call.Function)
	if !ok {
		return Result{}, &DispatchError{Kind: KindUnknownTool, Connector: connector.Name, Function: call.Function, Err: registry.ErrToolNotFound}
	}
	fail := func(de *DispatchError) (Result, error) {
		de.Connector, de.Function = connector.Name, tool.FunctionName
		return Result{}, de
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if fieldErrs := schema.Validate(tool.Parameters, args); len(fieldErrs) > 0 {
		return fail(&DispatchError{Kind: KindInvalidArguments, Fields: fieldErrs.Paths(), Err: fieldErrs})
	}

	pair, err := d.credentials.GetValidCredential(ctx, call.UserID, connector.Provider)
	switch {
	case err == nil:
	case errors.Is(err, tokens.ErrAuthRequired):
		return fail(&DispatchError{Kind: KindNotAuthenticated, Reason: ReasonAuthRequired, Err: err})
	case errors.Is(err, tokens.ErrRefreshFailed):
		return fail(&DispatchError{Kind: KindNotAuthenticated, Reason: ReasonRefreshFailed, Err: err})
	case errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn("credential lookup timed out", "connector", connector.Name, "user_id", call.UserID, "error", err)
		return fail(&DispatchError{Kind: KindProviderError, Timeout: true, Retryable: true, Err: err})
	case errors.Is(err, context.Canceled):
		return Result{}, err
	default:
		d.logger.Error("credential lookup failed", "connector", connector.Name, "user_id", call.UserID, "error", err)
		return fail(&DispatchError{Kind: KindStorageError, Err: err})
	}

	callCtx, cancel := context.WithTimeout(ctx, d.providerTimeout)
	defer cancel()
	out, err := d.catalog.Invoke(callCtx, connector.Name, registry.Invocation{
		Function:    tool.FunctionName,
		Arguments:   args,
		AccessToken: pair.AccessToken,
	})
	if err != nil {
		de := providerFailure(err)
		d.logger.Warn("provider call failed",
			"connector", connector.Name,
			"function", tool.FunctionName,
			"status", de.Status,
			"code", de.Code,
			"timeout", de.Timeout,
			"error", err,
		)
		return fail(de)
	}

	normalized, err := normalize(out)
	if err != nil {
		d.logger.Error("provider output is not JSON", "connector", connector.Name, "function", tool.FunctionName, "error", err)
		return fail(&DispatchError{Kind: KindSchemaViolation, Err: err})
	}
	shaped, fieldErrs := schema.Shape(tool.Response, normalized)
	if len(fieldErrs) > 0 {
		d.logger.Error("provider response violates tool schema",
			"connector", connector.Name,
			"function", tool.FunctionName,
			"fields", fieldErrs.Paths(),
		)
		return fail(&DispatchError{Kind: KindSchemaViolation, Fields: fieldErrs.Paths(), Err: fieldErrs})
	}

	return Result{Connector: connector.Name, Function: tool.FunctionName, Output: shaped}, nil
}

func providerFailure(err error) *DispatchError {
	de := &DispatchError{Kind: KindProviderError, Err: err}
	var pe *provider.Error
	if errors.As(err, &pe) {
		de.Status = pe.Status
		de.Code = pe.Code
		de.Retryable = pe.Retryable
		de.Timeout = pe.Timeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		de.Timeout = true
		de.Retryable = true
	}
	return de
}

// normalize converts connector output to the generic JSON value tree the
// schema walker understands.
func normalize(out any) (any, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode provider output: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode provider output: %w", err)
	}
	return v, nil
}
