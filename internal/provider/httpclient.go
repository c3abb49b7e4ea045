package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goldilockshq/connector-hub/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorSnippet  = 512
	retryBackoff     = 250 * time.Millisecond
)

// ErrorDecoder extracts a provider error code and message from a non-2xx body.
type ErrorDecoder func(status int, body []byte) (code, message string)

// Request is one outbound JSON call. Idempotent reads may be retried once on
// a transport error, 429 or 5xx; nothing else is retried.
type Request struct {
	Method      string
	URL         string
	BearerToken string
	Body        any
	Headers     map[string]string
	Idempotent  bool
}

// HTTPClient sends rate-limited JSON requests for one provider.
type HTTPClient struct {
	name        string
	http        *http.Client
	limiter     *rate.Limiter
	decodeError ErrorDecoder
}

type HTTPClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.http = c
		}
	}
}

// WithRateLimit caps outbound requests per second with a burst of the same size.
// Zero or negative disables limiting.
func WithRateLimit(perSecond int) HTTPClientOption {
	return func(h *HTTPClient) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
}

// WithErrorDecoder sets how non-2xx bodies are parsed into Error codes.
func WithErrorDecoder(d ErrorDecoder) HTTPClientOption {
	return func(h *HTTPClient) { h.decodeError = d }
}

func NewHTTPClient(name string, opts ...HTTPClientOption) *HTTPClient {
	h := &HTTPClient{
		name: name,
		http: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// DoJSON sends req and decodes a 2xx JSON body into out (when non-nil).
func (h *HTTPClient) DoJSON(ctx context.Context, req Request, out any) error {
	body, err := h.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Provider: h.name, Status: http.StatusOK, Message: "malformed response body", Err: err}
	}
	return nil
}

// Do sends req and returns the raw 2xx body.
func (h *HTTPClient) Do(ctx context.Context, req Request) ([]byte, error) {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", h.name, err)
		}
		payload = b
	}

	attempts := 1
	if req.Idempotent {
		attempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, AsTimeout(h.name, ctx.Err())
			case <-time.After(retryBackoff):
			}
		}

		body, err := h.once(ctx, req, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var pe *Error
		if !errors.As(err, &pe) || !pe.Retryable || pe.Timeout {
			break
		}
	}
	return nil, lastErr
}

func (h *HTTPClient) once(ctx context.Context, req Request, payload []byte) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, AsTimeout(h.name, err)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", h.name, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.http.Do(httpReq)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(h.name, metrics.StatusClass(0)).Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, AsTimeout(h.name, ctxErr)
		}
		return nil, &Error{Provider: h.name, Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	metrics.ProviderRequestsTotal.WithLabelValues(h.name, metrics.StatusClass(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, AsTimeout(h.name, ctxErr)
		}
		return nil, &Error{Provider: h.name, Status: resp.StatusCode, Retryable: true, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	pe := &Error{
		Provider:  h.name,
		Status:    resp.StatusCode,
		Retryable: RetryableStatus(resp.StatusCode),
	}
	if h.decodeError != nil {
		pe.Code, pe.Message = h.decodeError(resp.StatusCode, body)
	}
	if pe.Message == "" {
		pe.Message = snippet(body)
	}
	return nil, pe
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		// Drops a rune split by the cut.
		s = strings.ToValidUTF8(s[:maxErrorSnippet], "")
	}
	return s
}
