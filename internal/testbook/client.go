// Package testbook is a client for the undocumented Testbook catalog API.
package testbook

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
	"strings"
	"time"
)

const (
	DefaultNewBaseURL = "https://api-new.testbook.com"
	DefaultOldBaseURL = "https://api.testbook.com"

	searchLimit      = "30"
	testsLimit       = "500"
	requestTimeout   = 60 * time.Second
	maxResponseBytes = 32 << 20
	maxErrorBody     = 512
)

// ErrNoToken is returned before any request is made when no auth token is configured.
var ErrNoToken = errors.New("testbook: auth token not set")

// TokenSource yields the current auth token. It is consulted on every call.
type TokenSource interface {
	Token() string
}

// Observer receives one notification per HTTP round trip.
type Observer interface {
	ObserveRequest(endpoint string, elapsed time.Duration, err error)
}

// APIError is a non-success response, either an HTTP status outside 2xx or
// a JSON envelope with success=false.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("testbook: %s: status %d: %s", e.Endpoint, e.Status, body)
}

// Client issues fixed-shape calls against the two Testbook API hosts.
// It holds no per-test state; the token is re-read for every request.
type Client struct {
	newBase     string
	oldBase     string
	http        *http.Client
	tokens      TokenSource
	logger      *slog.Logger
	observer    Observer
	submitDelay time.Duration
	sleep       func(context.Context, time.Duration) error
}

type ClientOption func(*Client)

func WithBaseURLs(newBase, oldBase string) ClientOption {
	return func(c *Client) {
		c.newBase = strings.TrimRight(newBase, "/")
		c.oldBase = strings.TrimRight(oldBase, "/")
	}
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

// WithSleep replaces the wait used after an auto-submit.
func WithSleep(fn func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		newBase:     DefaultNewBaseURL,
		oldBase:     DefaultOldBaseURL,
		http:        &http.Client{Timeout: requestTimeout},
		tokens:      tokens,
		logger:      slog.Default(),
		submitDelay: 5 * time.Second,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type request struct {
	endpoint string
	method   string
	url      string
	params   url.Values
	body     any
	// lenient skips the success flag check; only the HTTP status matters.
	lenient bool
}

// call performs one request and decodes the envelope's data field into T.
func call[T any](ctx context.Context, c *Client, r request) (*T, error) {
	start := time.Now()
	out, err := doCall[T](ctx, c, r)
	if c.observer != nil {
		c.observer.ObserveRequest(r.endpoint, time.Since(start), err)
	}
	return out, err
}

func doCall[T any](ctx context.Context, c *Client, r request) (*T, error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	params := r.params
	if params == nil {
		params = url.Values{}
	}
	if params.Get("auth_code") == "" {
		params.Set("auth_code", token)
	}
	if params.Get("language") == "" {
		params.Set("language", "English")
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("testbook: marshal %s request: %w", r.endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url+"?"+params.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("testbook: create %s request: %w", r.endpoint, err)
	}
	setHeaders(req, token)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of the message.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("testbook: %s request failed: %w", r.endpoint, err)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("testbook: read %s response: %w", r.endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Endpoint: r.endpoint, Status: resp.StatusCode, Body: string(raw)}
	}

	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("testbook: decode %s response: %w", r.endpoint, err)
	}
	if !r.lenient && !env.Success {
		msg := env.Message
		if msg == "" {
			msg = string(raw)
		}
		return nil, &APIError{Endpoint: r.endpoint, Status: resp.StatusCode, Body: msg}
	}
	return &env.Data, nil
}

func setHeaders(req *http.Request, token string) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Platform", "web")
	req.Header.Set("X-Tb-Client", "web,1.2")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Authorization", "Bearer "+token)
}

// Search returns test series matching a free-text term.
func (c *Client) Search(ctx context.Context, query string) ([]Series, error) {
	type results struct {
		Results struct {
			TestSeries []Series `json:"testSeries"`
		} `json:"results"`
	}
	data, err := call[results](ctx, c, request{
		endpoint: "search",
		method:   http.MethodGet,
		url:      c.newBase + "/api/v1/search/individual",
		params:   url.Values{"term": {query}, "searchObj": {"testSeries"}, "limit": {searchLimit}},
	})
	if err != nil {
		return nil, err
	}
	return data.Results.TestSeries, nil
}

// SeriesDetails resolves a slug to the full series, section and subsection tree.
func (c *Client) SeriesDetails(ctx context.Context, slug string) (*Series, error) {
	type details struct {
		Details *Series `json:"details"`
	}
	data, err := call[details](ctx, c, request{
		endpoint: "series",
		method:   http.MethodGet,
		url:      c.oldBase + "/api/v1/test-series/slug",
		params:   url.Values{"url": {slug}},
	})
	if err != nil {
		return nil, err
	}
	if data.Details == nil {
		return nil, &APIError{Endpoint: "series", Status: http.StatusOK, Body: "missing series details"}
	}
	return data.Details, nil
}

// TestsInSubsection lists every test of one subsection.
func (c *Client) TestsInSubsection(ctx context.Context, seriesID, sectionID, subsectionID string) ([]TestSummary, error) {
	type tests struct {
		Tests []TestSummary `json:"tests"`
	}
	data, err := call[tests](ctx, c, request{
		endpoint: "tests",
		method:   http.MethodGet,
		url:      c.oldBase + "/api/v2/test-series/" + url.PathEscape(seriesID) + "/tests/details",
		params: url.Values{
			"sectionId":    {sectionID},
			"subSectionId": {subsectionID},
			"limit":        {testsLimit},
			"testType":     {"all"},
		},
	})
	if err != nil {
		return nil, err
	}
	return data.Tests, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
