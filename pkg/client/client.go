// Package client talks to the event API: a retrying request client and a
// realtime sync layer that keeps a local snapshot current.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/astromechza/chronos/pkg/events"
)

// APIError is a terminal request failure. Status is zero when no response arrived.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Client is the request client for the event API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	retries uint64
	backoff time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout bounds each attempt. Every retry gets a fresh timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// WithRetries sets how many times a retryable failure is retried.
func WithRetries(n uint64) Option {
	return func(cl *Client) {
		cl.retries = n
	}
}

// WithBackoff sets the base of the exponential delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(cl *Client) {
		cl.backoff = d
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http or https: %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    http.DefaultClient,
		timeout: 15 * time.Second,
		retries: 3,
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) List(ctx context.Context) ([]events.Event, error) {
	var evs []events.Event
	if _, err := c.do(ctx, http.MethodGet, "events/all", nil, &evs); err != nil {
		return nil, err
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return evs, nil
}

// Get returns events.ErrNotFound when the server has no event with the id.
func (c *Client) Get(ctx context.Context, id int64) (*events.Event, error) {
	var ev *events.Event
	if _, err := c.do(ctx, http.MethodGet, "events/"+strconv.FormatInt(id, 10), nil, &ev); err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, events.ErrNotFound
	}
	return ev, nil
}

// Create returns the server's acknowledgment message.
func (c *Client) Create(ctx context.Context, in events.CreateInput) (string, error) {
	return c.do(ctx, http.MethodPost, "events/create", in, nil)
}

func (c *Client) Update(ctx context.Context, id int64, in events.UpdateInput) (string, error) {
	return c.do(ctx, http.MethodPatch, "events/"+strconv.FormatInt(id, 10), in, nil)
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, "events/"+strconv.FormatInt(id, 10), nil, nil)
	return err
}

type envelope struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// messageText flattens an envelope message that is a string or a list of strings.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return string(raw)
}

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// do sends one request with retries, unwraps the envelope into out and
// returns the envelope message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (string, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return "", fmt.Errorf("failed to encode request: %w", err)
		}
	}
	target := c.baseURL.JoinPath(path).String()

	var (
		env     envelope
		attempt uint64
	)
	err := retry.Do(ctx, c.newBackoff(), func(ctx context.Context) error {
		attempt++
		var err error
		env, err = c.attempt(ctx, method, target, payload)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.retryable() && attempt <= c.retries {
			slog.Warn("retrying request", "attempt", attempt, "method", method, "url", target, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return messageText(env.Message), nil
}

// newBackoff doubles the wait from the base delay on every retry.
func (c *Client) newBackoff() retry.Backoff {
	return retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
}

// retryable reports network failures and server-side or rate-limit statuses.
func (e *APIError) retryable() bool {
	if errors.Is(e.Err, errNetwork) {
		return true
	}
	return e.Status != 0 && retryableStatus(e.Status)
}

var errNetwork = errors.New("network error")

func (c *Client) attempt(ctx context.Context, method, target string, payload []byte) (envelope, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, method, target, reader)
	if err != nil {
		return envelope{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return envelope{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			// a timed out attempt is not retried
			return envelope{}, &APIError{Message: fmt.Sprintf("timeout of %s exceeded", c.timeout), Err: err}
		default:
			return envelope{}, &APIError{Message: err.Error(), Err: errors.Join(errNetwork, err)}
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, &APIError{Status: resp.StatusCode, Message: err.Error(), Err: errors.Join(errNetwork, err)}
	}
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		msg := messageText(env.Message)
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return envelope{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return envelope{}, &APIError{Status: resp.StatusCode, Message: "invalid response envelope", Err: decodeErr}
	}
	return env, nil
}
