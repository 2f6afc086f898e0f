package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/benediktbwimmer/job-search/internal/resilience"
)

// ClientOptions configures the source HTTP client.
type ClientOptions struct {
	UserAgent string
	Timeout   time.Duration
	// HostRate is the sustained requests-per-second allowed per host.
	HostRate rate.Limit
	// HostBurst is the per-host burst allowance.
	HostBurst int
}

// Client is the HTTP client shared by all source fetchers. Each remote host
// gets its own token-bucket limiter so one chatty feed cannot starve the
// others' budget.
type Client struct {
	httpClient *http.Client
	opts       ClientOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a source HTTP client with per-host rate limiting.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "job-search/1.0"
	}
	if opts.HostRate == 0 {
		opts.HostRate = 2
	}
	if opts.HostBurst == 0 {
		opts.HostBurst = 4
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(c.opts.HostRate, c.opts.HostBurst)
		c.limiters[host] = lim
	}
	return lim
}

// GetString fetches rawURL and returns the response body as a string.
// Non-2xx statuses become errors; retryable statuses (429, 5xx) are wrapped
// as transient so retry wrappers upstream can distinguish them.
func (c *Client) GetString(ctx context.Context, rawURL string) (string, error) {
	if err := c.limiterFor(rawURL).Wait(ctx); err != nil {
		return "", eris.Wrap(err, "source: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", eris.Wrapf(err, "source: build request for %s", rawURL)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "source: fetch %s", rawURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", eris.Wrapf(err, "source: read body from %s", rawURL)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("source: %s returned HTTP %d", rawURL, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return "", statusErr
	}

	return string(body), nil
}
