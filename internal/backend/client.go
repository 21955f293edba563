// Package backend is the client of the storefront's REST backend: users, the per-user cart and orders.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/platform/observability"
)

const (
	defaultTimeout    = 10 * time.Second
	idempotencyHeader = "Idempotency-Key"
)

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("backend: %d %s: %s", e.Status, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("backend: %d: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("backend: %d %s", e.Status, http.StatusText(e.Status))
	}
}

// AuthFailure reports whether the backend rejected the caller's credentials.
func (e *APIError) AuthFailure() bool {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return true
	}
	return cart.HasAuthSignature(e.Code + " " + e.Message)
}

// IsAuthError reports whether err is an authentication-class failure: HTTP 401/403 or an error message
// carrying an auth or token signature.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.AuthFailure()
	}
	return cart.IsAuthFailure(err)
}

// ErrMissingToken is returned by authenticated calls made without a token.
var ErrMissingToken = errors.New("backend: missing token")

// Client talks to the backend REST API.
type Client struct {
	base   *url.URL
	client HTTPClient
	newKey func() string
}

// NewClient constructs a client rooted at baseURL. A nil client uses an http.Client with timeout.
func NewClient(baseURL string, client HTTPClient, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("backend: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("backend: parse base URL: %w", err)
	}
	if client == nil {
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   parsed,
		client: client,
		newKey: func() string { return ulid.Make().String() },
	}, nil
}

type requestOption func(*http.Request)

func withIdempotencyKey(key string) requestOption {
	return func(req *http.Request) { req.Header.Set(idempotencyHeader, key) }
}

// call sends one request and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) call(ctx context.Context, op, method, endpoint string, payload any, token string, out any, opts ...requestOption) (err error) {
	ctx, span := observability.StartClientSpan(ctx, "backend", op,
		attribute.String("http.request.method", method),
		attribute.String("backend.endpoint", endpoint),
	)
	defer func() { observability.EndSpan(span, err) }()

	req, err := c.newJSONRequest(ctx, method, endpoint, payload, token)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s request failed: %w", op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("backend: decode %s: %w", op, err)
	}
	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, endpoint string, payload any, token string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(payload); err != nil {
			return nil, fmt.Errorf("backend: encode payload: %w", err)
		}
		body = &buf
	}
	target, err := c.resolve(endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// resolve joins an already escaped endpoint path onto the base URL.
func (c *Client) resolve(endpoint string) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("backend: parse endpoint %q: %w", endpoint, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var payload struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		apiErr.Code = strings.TrimSpace(payload.Code)
		apiErr.Message = strings.TrimSpace(payload.Message)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(payload.Error)
		}
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

func requireToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
