// Package action sends user interactions on page fields to the server and applies what comes
// back. The origin field is disabled for as long as its request is in flight.
package action

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/astromechza/fieldsync/pkg/update"
)

var (
	ErrOriginNotFound = update.ErrTargetNotFound
	ErrOriginDisabled = update.ErrTargetDisabled
)

// RequestIDHeader carries a per dispatch id so server logs can be matched to diagnostics.
const RequestIDHeader = "X-Request-Id"

// StatusError is a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "HTTP-Error: " + e.Status
}

// Client dispatches action requests and applies their responses.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	applier    *update.Applier
	logger     *slog.Logger

	fieldEndpoint  Endpoint
	actionEndpoint Endpoint
	timeout        time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request. Zero, the default, never times out, so a hung server
// leaves the origin field disabled.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithFieldEndpoint sets the route used for field edits.
func WithFieldEndpoint(e Endpoint) Option {
	return func(c *Client) { c.fieldEndpoint = e }
}

// WithActionEndpoint sets the route used for actions.
func WithActionEndpoint(e Endpoint) Option {
	return func(c *Client) { c.actionEndpoint = e }
}

func NewClient(baseURL string, applier *update.Applier, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	c := &Client{
		baseURL:        u,
		httpClient:     http.DefaultClient,
		applier:        applier,
		logger:         applier.Logger(),
		fieldEndpoint:  FieldUpdateEndpoint(),
		actionEndpoint: AppActionEndpoint(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Dispatch sends req on behalf of the origin field. The origin is disabled before anything
// else happens; it stays disabled until the response says otherwise or a failure re-enables it.
//
// Failures of the request itself are reported through the alert sink and never returned. The
// only errors are precondition failures, in which case nothing was sent: the origin does not
// exist (ErrOriginNotFound) or already has a request in flight (ErrOriginDisabled).
func (c *Client) Dispatch(ctx context.Context, origin string, req Request) error {
	if err := c.applier.Acquire(origin); err != nil {
		return err
	}
	requestID := ulid.Make().String()
	logger := c.logger.With("origin", origin, "request", requestID)

	endpoint := c.fieldEndpoint
	if req.Kind == KindAction {
		endpoint = c.actionEndpoint
	}
	method, target, body, err := endpoint.build(c.baseURL, origin, req)
	if err != nil {
		c.fail(logger, origin, err.Error())
		return nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	httpRequest, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		c.fail(logger, origin, fmt.Sprintf("HTTP-Error: %v", err))
		return nil
	}
	httpRequest.Header.Set(RequestIDHeader, requestID)
	httpRequest.Header.Set("Cache-Control", "no-store")
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	logger.Debug("sending request", "method", method, "url", target)
	resp, err := c.httpClient.Do(httpRequest)
	if err != nil {
		c.fail(logger, origin, fmt.Sprintf("HTTP-Error: %v", err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.fail(logger, origin, (&StatusError{Code: resp.StatusCode, Status: resp.Status}).Error())
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		logger.Debug("request handled, nothing more to do")
		c.applier.Release(origin)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.fail(logger, origin, fmt.Sprintf("HTTP-Error: failed to read response: %v", err))
		return nil
	}
	decoded, err := decodeResponse(raw)
	if err != nil {
		c.fail(logger, origin, fmt.Sprintf("bad response from server: %v", err))
		return nil
	}

	switch decoded.kind {
	case responseValue:
		c.applier.Apply(origin, decoded.value)
		c.applier.Release(origin)
	case responseBatch:
		c.applier.ApplyBatch(decoded.batch)
	case responseFailure:
		c.fail(logger, origin, decoded.fail)
	case responseNothing:
		logger.Debug("update nothing")
		c.applier.Release(origin)
	}
	return nil
}

func (c *Client) fail(logger *slog.Logger, origin string, msg string) {
	logger.Error("request failed", "reason", msg)
	c.applier.Apply(update.FieldAlert, update.Scalar(msg))
	c.applier.Release(origin)
}
