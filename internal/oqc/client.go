// Package oqc is a read-only client for the OpenQualityChecker REST API.
//
// Project listing fails fast (auth vs. availability), branch listing soft-fails
// to an empty result, and version and quality-profile lookups poll with
// backoff because upstream analysis completes asynchronously after a push.
package oqc

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

	"golang.org/x/sync/singleflight"

	"oqcpipe/internal/backoff"
	"oqcpipe/internal/logging"
)

const (
	projectsPageSize      = 100
	defaultRequestTimeout = 60 * time.Second
	maxBodyBytes          = 16 << 20
)

// errEmptyBody marks a 2xx response without a usable JSON document.
var errEmptyBody = errors.New("empty response body")

// Client talks to one OpenQualityChecker server with one access token. It is
// safe for concurrent use; the project list is fetched once per burst of
// concurrent ListProjects calls.
type Client struct {
	baseURL string
	http    *http.Client
	policy  backoff.Policy
	logger  *slog.Logger

	projects singleflight.Group
}

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	policy     *backoff.Policy
	verbose    bool
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient replaces the underlying HTTP client. Its transport is wrapped,
// not replaced.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger for API errors and retries. Defaults to the
// global logger with component=oqc.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithBackoff overrides the polling policy used by ListVersions and
// GetQualityProfile.
func WithBackoff(p backoff.Policy) Option {
	return func(o *options) {
		o.policy = &p
	}
}

// WithVerbose logs every API call and its latency at debug level.
func WithVerbose(enabled bool) Option {
	return func(o *options) {
		o.verbose = enabled
	}
}

// NewClient returns a client for the server rooted at baseURL (for example
// https://oqc.example.com/backend) that sends token in the "token" header.
// It fails only when the backoff policy given through WithBackoff is invalid.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.logger == nil {
		o.logger = logging.WithComponent("oqc")
	}
	policy := backoff.DefaultPolicy()
	if o.policy != nil {
		policy = *o.policy
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("oqc client: %w", err)
	}

	base := http.DefaultTransport
	timeout := defaultRequestTimeout
	if o.httpClient != nil {
		if o.httpClient.Transport != nil {
			base = o.httpClient.Transport
		}
		timeout = o.httpClient.Timeout
	}
	var transport http.RoundTripper = base
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, logger: o.logger}
	}
	transport = &tokenTransport{token: token, base: transport}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Transport: transport, Timeout: timeout},
		policy:  policy,
		logger:  o.logger,
	}, nil
}

// ListProjects returns every project visible to the token, following
// pagination until the API reports the last page. Concurrent calls share one
// round of requests.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	v, err, _ := c.projects.Do("projects", func() (interface{}, error) {
		return c.listProjects(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Project), nil
}

func (c *Client) listProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("privateOnly", "true")
		q.Set("page", strconv.Itoa(page))
		q.Set("size", strconv.Itoa(projectsPageSize))

		var resp projectsResponse
		err := c.getJSON(ctx, "/api/projects", q, &resp)
		if errors.Is(err, errEmptyBody) {
			c.logger.Warn("OPENQUALITYCHECKER__ERROR: empty projects response", "page", page)
			break
		}
		if err != nil {
			classified := classify(err)
			if IsAuthError(classified) {
				c.logger.Warn("OPENQUALITYCHECKER__ERROR: Request not authorized")
			} else {
				c.logger.Error("OPENQUALITYCHECKER__ERROR", "error", err)
			}
			return nil, classified
		}
		if resp.Data == nil {
			break
		}
		projects = append(projects, resp.Data.Content...)
		// A page without content cannot make progress even if "last" is missing.
		if resp.Data.Last || len(resp.Data.Content) == 0 {
			break
		}
	}
	return projects, nil
}

// FetchBranches performs a single branch listing request.
func (c *Client) FetchBranches(ctx context.Context, projectID ID) ([]Branch, error) {
	var resp branchesResponse
	if err := c.getJSON(ctx, "/api/project/"+url.PathEscape(projectID.String())+"/branches", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListBranches is FetchBranches with errors logged and collapsed to an empty
// result; callers decide whether absence is fatal.
func (c *Client) ListBranches(ctx context.Context, projectID ID) []Branch {
	branches, err := c.FetchBranches(ctx, projectID)
	if err != nil {
		c.log(ctx).Error("OPENQUALITYCHECKER__ERROR", "op", "list branches", "project_id", projectID, "error", err)
		return nil
	}
	return branches
}

// FetchVersions performs a single version listing request.
func (c *Client) FetchVersions(ctx context.Context, branchID ID) ([]Version, error) {
	var resp versionsResponse
	if err := c.getJSON(ctx, "/api/branch/"+url.PathEscape(branchID.String())+"/versions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListVersions polls the version listing until it is non-empty or the backoff
// budget runs out, and returns the last listing seen.
func (c *Client) ListVersions(ctx context.Context, branchID ID) []Version {
	versions, err := backoff.OnPredicate(ctx, c.retryPolicy(ctx, "list versions"), func(ctx context.Context) []Version {
		v, err := c.FetchVersions(ctx, branchID)
		if err != nil {
			c.log(ctx).Error("OPENQUALITYCHECKER__ERROR", "op", "list versions", "branch_id", branchID, "error", err)
			return nil
		}
		return v
	}, backoff.IsEmpty[Version])
	if err != nil {
		c.log(ctx).Warn("version polling interrupted", "branch_id", branchID, "error", err)
	}
	return versions
}

// FetchQualityProfile performs a single quality profile request. A response
// without data yields (nil, nil).
func (c *Client) FetchQualityProfile(ctx context.Context, versionID ID) (*QualityProfile, error) {
	var resp qualityProfileResponse
	if err := c.getJSON(ctx, "/api/version/"+url.PathEscape(versionID.String())+"/qualityProfile", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetQualityProfile polls until a profile is available or the backoff budget
// runs out, in which case it returns nil. Request errors count as "not yet".
func (c *Client) GetQualityProfile(ctx context.Context, versionID ID) *QualityProfile {
	profile, err := backoff.OnPredicate(ctx, c.retryPolicy(ctx, "quality profile"), func(ctx context.Context) *QualityProfile {
		p, err := c.FetchQualityProfile(ctx, versionID)
		if err != nil {
			c.log(ctx).Error("OPENQUALITYCHECKER__ERROR", "op", "quality profile", "version_id", versionID, "error", err)
			return nil
		}
		return p
	}, backoff.IsNil[QualityProfile])
	if err != nil {
		c.log(ctx).Warn("quality profile polling interrupted", "version_id", versionID, "error", err)
	}
	return profile
}

// Policy returns the polling policy in use.
func (c *Client) Policy() backoff.Policy {
	return c.policy
}

// log returns the client logger tagged with the project carried by ctx.
// Project listing is shared between projects through singleflight and keeps
// the untagged logger.
func (c *Client) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, c.logger)
}

func (c *Client) retryPolicy(ctx context.Context, op string) backoff.Policy {
	p := c.policy
	if p.OnRetry == nil {
		log := c.log(ctx)
		p.OnRetry = func(attempt int, delay time.Duration) {
			log.Debug("retrying", "op", op, "attempt", attempt, "delay", delay)
		}
	}
	return p
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     req.Method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), 256),
		}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return errEmptyBody
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
