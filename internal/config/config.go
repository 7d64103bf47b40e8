package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"oqcpipe/internal/output"
)

// Environment variables understood by the pipe. A --config YAML file may set
// the same keys; the environment wins over the file.
const (
	EnvToken        = "OPENQUALITYCHECKER_ACCESS_TOKEN"
	EnvProjectName  = "OPENQUALITYCHECKER_PROJECT_NAME"
	EnvBaseURL      = "OPENQUALITYCHECKER_BASE_URL"
	EnvUsername     = "BITBUCKET_USERNAME"
	EnvPassword     = "BITBUCKET_PASSWORD"
	EnvAccessToken  = "BITBUCKET_ACCESS_TOKEN"
	EnvRepository   = "BITBUCKET_REPOSITORY"
	EnvBranch       = "BITBUCKET_BRANCH"
	EnvCommit       = "BITBUCKET_COMMIT"
	EnvCodeInsights = "BITBUCKET_CODE_INSIGHTS"
	EnvDebug        = "DEBUG"

	// Provided by Bitbucket Pipelines; used as fallbacks.
	EnvRepoOwner = "BITBUCKET_REPO_OWNER"
	EnvRepoSlug  = "BITBUCKET_REPO_SLUG"
)

type Config struct {
	// MAINTAINER NOTE: keep these in sync when adding fields:
	// - CLI flags in internal/cli/root.go
	// - the env table in Load
	QualityChecker QualityChecker
	Bitbucket      Bitbucket
	Output         Output
	Runtime        Runtime
}

type QualityChecker struct {
	// Token is the OpenQualityChecker API token (OPENQUALITYCHECKER_ACCESS_TOKEN, --token).
	Token string

	// ProjectName is the raw comma-separated project list (OPENQUALITYCHECKER_PROJECT_NAME, --project).
	ProjectName string

	// BaseURL is the OpenQualityChecker server root (OPENQUALITYCHECKER_BASE_URL, --base-url).
	BaseURL string
}

type Bitbucket struct {
	// Username defaults to BITBUCKET_REPO_OWNER.
	Username string
	Password string
	// AccessToken takes precedence over Username/Password for Code Insights calls.
	AccessToken string
	// Repository defaults to BITBUCKET_REPO_SLUG.
	Repository string

	// Branch and Commit identify the analysed snapshot (--branch, --commit).
	Branch string
	Commit string

	// CodeInsights posts a report and annotations for failing projects.
	CodeInsights bool
}

type Output struct {
	// ConsoleFormat controls stdout output (see --console-format).
	// Allowed values: text, ndjson.
	ConsoleFormat string

	// Out additionally records the run to this path (see --out).
	Out string

	// OutFormat selects the format for --out. If empty, it is inferred from
	// the file extension.
	OutFormat string
}

type Runtime struct {
	// Concurrency bounds how many projects resolve at once. 1 is sequential.
	Concurrency int

	// Timeout bounds the whole run (see --timeout). 0 leaves the run bounded
	// only by the polling budgets.
	Timeout time.Duration

	// CompoundBackoff polls the version listing with its own backoff inside
	// the outer version lookup loop.
	CompoundBackoff bool

	// Debug enables debug logging, including every API call.
	Debug bool
}

func New() *Config {
	return &Config{
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Concurrency: 1,
		},
	}
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load builds a Config from defaults, the optional YAML file at path and the
// environment, in increasing order of precedence.
func Load(lookup LookupFunc, path string) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	file := map[string]string{}
	if path != "" {
		var err error
		if file, err = LoadFile(path); err != nil {
			return nil, err
		}
	}

	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
	str := func(key string) string {
		v, _ := get(key)
		return strings.TrimSpace(v)
	}
	boolean := func(key string) (bool, error) {
		v := str(key)
		if v == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid %s value %q: expected a boolean", key, v)
		}
		return b, nil
	}

	cfg := New()
	cfg.QualityChecker.Token = str(EnvToken)
	// Project names keep their raw form; splitting happens at evaluation.
	if v, ok := get(EnvProjectName); ok {
		cfg.QualityChecker.ProjectName = v
	}
	cfg.QualityChecker.BaseURL = str(EnvBaseURL)

	cfg.Bitbucket.Username = firstNonEmpty(str(EnvUsername), str(EnvRepoOwner))
	cfg.Bitbucket.Password = str(EnvPassword)
	cfg.Bitbucket.AccessToken = str(EnvAccessToken)
	cfg.Bitbucket.Repository = firstNonEmpty(str(EnvRepository), str(EnvRepoSlug))
	cfg.Bitbucket.Branch = str(EnvBranch)
	cfg.Bitbucket.Commit = str(EnvCommit)

	var err error
	if cfg.Bitbucket.CodeInsights, err = boolean(EnvCodeInsights); err != nil {
		return nil, err
	}
	if cfg.Runtime.Debug, err = boolean(EnvDebug); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a flat YAML mapping of configuration keys. Keys use the
// environment variable names; scalar values are taken as written.
func LoadFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse config file %s: %s must be a scalar value", path, k)
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = node.Value
	}
	return out, nil
}

// MissingError lists required configuration that was not provided.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Vars, ", ")
}

func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.QualityChecker.Token) == "" {
		missing = append(missing, EnvToken)
	}
	if len(splitCommaList([]string{c.QualityChecker.ProjectName})) == 0 {
		missing = append(missing, EnvProjectName)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingError{Vars: missing}
	}

	if c.QualityChecker.BaseURL != "" {
		u, err := url.Parse(c.QualityChecker.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid %s: %q (must be an http or https URL)", EnvBaseURL, c.QualityChecker.BaseURL)
		}
	}

	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, ndjson)", c.Output.ConsoleFormat)
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			format, err := output.InferFormat(c.Output.Out)
			if err != nil {
				return fmt.Errorf("%w; use --out-format", err)
			}
			c.Output.OutFormat = format
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	if c.Runtime.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Runtime.Timeout < 0 {
		return errors.New("--timeout must be >= 0")
	}

	if c.Bitbucket.CodeInsights && c.Bitbucket.Commit == "" {
		return fmt.Errorf("%s requires %s", EnvCodeInsights, EnvCommit)
	}
	return nil
}

// RepositoryOwner returns the workspace that owns the repository. A
// "workspace/slug" repository value carries its own owner.
func (c *Config) RepositoryOwner() string {
	if owner, _, ok := strings.Cut(c.Bitbucket.Repository, "/"); ok {
		return owner
	}
	return c.Bitbucket.Username
}

// RepositorySlug returns the repository name without its workspace.
func (c *Config) RepositorySlug() string {
	if _, slug, ok := strings.Cut(c.Bitbucket.Repository, "/"); ok {
		return slug
	}
	return c.Bitbucket.Repository
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
