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
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/obs"
)

const maxResponseBytes = 4 << 20

// Client talks to the remote catalog API, the system of record.
type Client struct {
	base         *url.URL
	http         *http.Client
	limiter      *rate.Limiter
	maxElapsed   time.Duration
	serviceToken string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (15s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithRetry bounds the total time spent retrying idempotent reads. Zero disables retries.
func WithRetry(maxElapsed time.Duration) Option {
	return func(c *Client) {
		if maxElapsed >= 0 {
			c.maxElapsed = maxElapsed
		}
	}
}

// WithServiceToken sets the bearer used when the context carries none, e.g.
// background reference-data refreshes.
func WithServiceToken(token string) Option {
	return func(c *Client) { c.serviceToken = strings.TrimSpace(token) }
}

// New builds a Client for baseURL, e.g. "https://catalog.example/".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	c := &Client{
		base:       u,
		http:       &http.Client{Timeout: 15 * time.Second},
		maxElapsed: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// call is one HTTP exchange description.
type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

// do runs c and returns the response body. GETs are retried with exponential
// backoff while the backend is unavailable; everything else is tried once.
func (c *Client) do(ctx context.Context, req call) ([]byte, error) {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", req.op, err)
		}
	}

	attempt := func() ([]byte, error) {
		return c.once(ctx, req, payload)
	}
	if req.method != http.MethodGet || c.maxElapsed == 0 {
		return attempt()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = c.maxElapsed
	var out []byte
	err := backoff.Retry(func() error {
		body, err := attempt()
		if err != nil {
			var be *Error
			if errors.As(err, &be) && be.Retryable() && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		out = body
		return nil
	}, backoff.WithContext(policy, ctx))
	return out, err
}

func (c *Client) once(ctx context.Context, req call, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Op: req.op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
		}
	}

	u := *c.base
	u.Path = c.base.Path + req.path
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		obs.ObserveBackendCall(req.op, "error", time.Since(start))
		return nil, &Error{Op: req.op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	obs.ObserveBackendCall(req.op, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, &Error{Op: req.op, Status: resp.StatusCode, Err: fmt.Errorf("%w: read body: %v", ErrUnavailable, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(req.op, resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) bearer(ctx context.Context) string {
	if token, ok := auth.TokenFromContext(ctx); ok {
		return token
	}
	return c.serviceToken
}

// Ping succeeds when the backend answers at all, whatever the status.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.once(ctx, call{op: "ping", method: http.MethodGet, path: "/api/secteurs", query: pageQuery(0, 1)}, nil)
	if err != nil && errors.Is(err, ErrUnavailable) {
		return err
	}
	return nil
}

func pageQuery(page, size int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return q
}

type pageEnvelope[T any] struct {
	Content       []T `json:"content"`
	TotalElements int `json:"totalElements"`
}

// decodeList accepts a bare array or a {"content", "totalElements"} page.
// The second return value is the server-side total when known.
func decodeList[T any](op string, data []byte) ([]T, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, nil
	}
	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, 0, fmt.Errorf("%s: decode list: %w", op, err)
		}
		return items, len(items), nil
	}
	var page pageEnvelope[T]
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, 0, fmt.Errorf("%s: decode page: %w", op, err)
	}
	total := page.TotalElements
	if total < len(page.Content) {
		total = len(page.Content)
	}
	return page.Content, total, nil
}

func decodeOne[T any](op string, data []byte) (T, error) {
	var v T
	if len(bytes.TrimSpace(data)) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%s: decode: %w", op, err)
	}
	return v, nil
}

// decision is the body of every approve/reject call.
type decision struct {
	Timestamp string `json:"timestamp"`
	Feedback  string `json:"feedback,omitempty"`
}

func newDecision(feedback string) decision {
	return decision{Timestamp: time.Now().UTC().Format(time.RFC3339), Feedback: feedback}
}

func escape(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
