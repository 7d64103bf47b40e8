// Package bitbucket posts Code Insights reports and annotations for a commit.
package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"oqcpipe/internal/logging"
)

const (
	DefaultAPIURL = "https://api.bitbucket.org/2.0"

	// Inside Pipelines, unauthenticated calls go through the local auth proxy,
	// which only accepts plain http.
	proxyAPIURL   = "http://api.bitbucket.org/2.0"
	pipelineProxy = "http://localhost:29418"
)

// Credentials selects the authentication mode. AccessToken wins over
// Password; with neither the Pipelines proxy authenticates the call.
type Credentials struct {
	Username    string
	Password    string
	AccessToken string
}

func (c Credentials) mode() string {
	switch {
	case c.AccessToken != "":
		return "bearer"
	case c.Password != "":
		return "basic"
	default:
		return "proxy"
	}
}

// Client posts Code Insights reports and annotations for one repository.
type Client struct {
	baseURL string
	owner   string
	repo    string
	creds   Credentials
	http    *http.Client
	logger  *slog.Logger
	newID   func() string
}

type options struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	verbose    bool
	newID      func() string
}

// Option configures a Client.
type Option func(*options)

// WithBaseURL points the client at another API root (tests, self-hosted proxies).
func WithBaseURL(u string) Option {
	return func(o *options) {
		o.baseURL = u
	}
}

// WithHTTPClient replaces the underlying HTTP client. Authentication is still
// layered on top of its transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger for client setup and API errors. Defaults to the
// global logger with component=bitbucket.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithVerbose logs every API call and its latency at debug level.
func WithVerbose(enabled bool) Option {
	return func(o *options) {
		o.verbose = enabled
	}
}

// WithIDGenerator overrides how annotation external ids are generated.
func WithIDGenerator(f func() string) Option {
	return func(o *options) {
		o.newID = f
	}
}

// NewClient returns a client for the repository owner/repo. With no access
// token and no password, and no WithBaseURL, requests go through the Pipelines
// auth proxy. It fails when ctx is nil or owner or repo is empty.
func NewClient(ctx context.Context, owner, repo string, creds Credentials, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("bitbucket client: ctx is nil")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("bitbucket client: repository owner and slug are required (got %q/%q)", owner, repo)
	}

	o := &options{
		logger: logging.WithComponent("bitbucket"),
		newID:  func() string { return uuid.NewString() },
	}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	base := http.DefaultTransport
	if o.httpClient != nil && o.httpClient.Transport != nil {
		base = o.httpClient.Transport
	}

	baseURL := o.baseURL
	if creds.mode() == "proxy" && baseURL == "" {
		proxy, err := url.Parse(pipelineProxy)
		if err != nil {
			return nil, fmt.Errorf("bitbucket client: %w", err)
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = http.ProxyURL(proxy)
		base = t
		baseURL = proxyAPIURL
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}

	transport := base
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, logger: o.logger}
	}
	if creds.mode() == "bearer" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}

	hc := &http.Client{Transport: transport, Timeout: 30 * time.Second}
	if o.httpClient != nil && o.httpClient.Timeout > 0 {
		hc.Timeout = o.httpClient.Timeout
	}

	o.logger.Info("Creating Bitbucket API client",
		"repository", owner+"/"+repo, "user", creds.Username, "auth", creds.mode())

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		owner:   owner,
		repo:    repo,
		creds:   creds,
		http:    hc,
		logger:  o.logger,
		newID:   o.newID,
	}, nil
}

// APIError is a non-2xx Bitbucket response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitbucket api: %s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func (c *Client) commitPath(commit string, parts ...string) string {
	segs := []string{"repositories", url.PathEscape(c.owner), url.PathEscape(c.repo), "commit", url.PathEscape(commit)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return "/" + strings.Join(segs, "/")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds.mode() == "basic" {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug("bitbucket api request", "method", req.Method, "url", req.URL.String())
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Debug("bitbucket api error", "duration", dur, "error", err)
		return resp, err
	}
	t.logger.Debug("bitbucket api response", "status", resp.StatusCode, "duration", dur)
	return resp, err
}
