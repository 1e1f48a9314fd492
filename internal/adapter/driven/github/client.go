// Package github implements a storage provider over the GitHub contents
// API using the go-github library. Files live on one branch of a
// repository; every write or delete is a commit and a file's blob SHA is
// its revision.
package github

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the provider at a GitHub Enterprise or test server.
// The URL must end with a slash.
func WithBaseURL(u *url.URL) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithHTTPTransport sets the innermost transport below the cache and rate
// limit layers.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(p *Provider) {
		p.transport = rt
	}
}

// WithLogger sets the provider's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider serves credentials of the github variant. It keeps one API
// client per token and drops it as soon as GitHub rejects the token.
type Provider struct {
	baseURL   *url.URL
	transport http.RoundTripper
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[string]*gh.Client
}

// NewProvider creates a GitHub provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		logger:  slog.Default(),
		clients: make(map[string]*gh.Client),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseBaseURL parses an API base URL, adding the trailing slash go-github
// requires.
func ParseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return u, nil
}

func (p *Provider) Variant() model.Variant {
	return model.VariantGitHub
}

// clientFor returns the cached client for token, creating it on first use
// with the following transport stack:
//  1. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  2. revalidation (forces ETag revalidation of every cached GET)
//  3. httpcache (ETag-based conditional request caching)
//  4. go-github (GitHub REST API client with PAT auth)
func (p *Provider) clientFor(token string) *gh.Client {
	p.mu.RLock()
	c, ok := p.clients[token]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[token]; ok {
		return c
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	cacheTransport.Transport = p.transport
	rateLimitClient := github_ratelimit.NewClient(revalidate{next: cacheTransport})
	c = gh.NewClient(rateLimitClient).WithAuthToken(token)
	if p.baseURL != nil {
		c.BaseURL = p.baseURL
	}

	p.clients[token] = c
	return c
}

// expire forgets the client for token so the next call starts fresh.
func (p *Provider) expire(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[token]; ok {
		delete(p.clients, token)
		p.logger.Warn("github credential rejected, client evicted")
	}
}

// revalidate marks every GET as stale so httpcache revalidates with the
// stored ETag instead of serving a response GitHub declared fresh for a
// minute. A 304 is served from cache and does not count against the rate
// limit.
type revalidate struct {
	next http.RoundTripper
}

func (t revalidate) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet && req.Header.Get("Cache-Control") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Cache-Control", "max-age=0")
	}
	return t.next.RoundTrip(req)
}

// repoRef is a credential's target resolved to owner, repo and branch.
type repoRef struct {
	token  string
	owner  string
	repo   string
	branch string
}

func resolve(cred model.Credential) (repoRef, error) {
	params, ok := cred.Params.(model.GitHubParams)
	if !ok {
		return repoRef{}, storageerr.Newf(storageerr.KindCredentialsError, "credential variant %q is not %q", cred.Variant(), model.VariantGitHub)
	}
	if params.Token == "" {
		return repoRef{}, storageerr.New(storageerr.KindCredentialsError, "github token is empty")
	}

	owner, repo := params.Owner, params.Repo
	if owner == "" {
		var err error
		owner, repo, err = splitRepo(params.Repo)
		if err != nil {
			return repoRef{}, storageerr.Wrap(err, storageerr.KindCredentialsError, "github repository")
		}
	}
	if repo == "" {
		return repoRef{}, storageerr.New(storageerr.KindCredentialsError, "github repository is empty")
	}
	return repoRef{token: params.Token, owner: owner, repo: repo, branch: params.Branch}, nil
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

// logRateLimit logs the GitHub API rate limit status after each call.
func (p *Provider) logRateLimit(resp *gh.Response, op, path string) {
	if resp == nil {
		return
	}

	p.logger.Debug("github api call",
		"op", op,
		"path", path,
		"status", resp.StatusCode,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		p.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
