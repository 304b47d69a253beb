package adapter

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/saline-motors/truckwatch/internal/cache"
)

// ClientOptions configures the shared HTTP client.
type ClientOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RequestsPerSecond is applied per host; classifieds sites ban
	// aggressive crawlers quickly.
	RequestsPerSecond float64
	Burst             int
	// Pages holds fetched bodies across runs when configured; nil
	// disables caching.
	Pages *cache.PageCache
}

// Client fetches pages with per-host rate limiting, retry with backoff,
// and an optional page cache.
type Client struct {
	http  *http.Client
	opts  ClientOptions
	log   *zap.Logger
	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// NewClient creates a Client with the given options.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) truckwatch/1.0"
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.Burst == 0 {
		opts.Burst = 2
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:  opts,
		log:   zap.L().Named("fetch"),
		hosts: make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.hosts[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.opts.RequestsPerSecond), c.opts.Burst)
		c.hosts[host] = lim
	}
	return lim
}

// Get fetches a URL and returns the body. Cached bodies are returned
// without touching the network.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if c.opts.Pages != nil {
		if body, ok := c.opts.Pages.Get(ctx, rawURL); ok {
			c.log.Debug("page cache hit", zap.String("url", rawURL))
			return body, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	var lastErr error
	for attempt := range c.opts.MaxRetries {
		if err := c.limiterFor(rawURL).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			c.log.Warn("request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL)
			c.log.Warn("retryable status",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL)
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: read body from %s", rawURL)
		}

		if c.opts.Pages != nil {
			if err := c.opts.Pages.Set(ctx, rawURL, body); err != nil {
				c.log.Warn("page cache write failed", zap.Error(err))
			}
		}
		return body, nil
	}

	return nil, eris.Wrap(lastErr, "fetch: all retries exhausted")
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
