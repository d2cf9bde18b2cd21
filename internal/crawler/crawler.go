// Package crawler fetches pages from the authenticated source. It is the
// pipeline's boundary to the outside world: stages depend on the Fetcher
// interface and never on the HTTP machinery behind it.
package crawler

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/backoff"
	"github.com/jerling2/scrawler/internal/telemetry"
)

// Result is the outcome of one page fetch.
type Result struct {
	URL  string
	HTML string
	Err  error
}

// Fetcher retrieves a set of pages concurrently. Results arrive in
// completion order; the channel closes after the last URL resolves.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) <-chan Result
}

// Sessioner establishes and verifies the authenticated session.
type Sessioner interface {
	EnsureSession(ctx context.Context) error
}

// Config tunes the crawler. Zero values fall back to the documented
// defaults.
type Config struct {
	// SessionFile holds the persisted session state (cookies) for this
	// worker, e.g. <SESSION_STORAGE>/handshake.json.
	SessionFile string
	LoginURL    string
	// ProbeURL is fetched to validate the session; landing on the login
	// page means the session is absent or stale.
	ProbeURL string
	Username string
	Password string

	Parallelism int           // bounded concurrency, default 5
	RandomDelay time.Duration // per-request rate-limit jitter, default 1s
	Timeout     time.Duration // per-request timeout, default 30s

	MaxRetries int           // per-URL attempts, default 5
	BaseDelay  time.Duration // backoff base, default 1s
	MaxDelay   time.Duration // backoff cap, default 60s
}

func (c *Config) applyDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = 5
	}
	if c.RandomDelay <= 0 {
		c.RandomDelay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
}

// Crawler implements Fetcher and Sessioner over a colly collector with a
// shared cookie jar. The jar carries the authenticated session; it is loaded
// from and persisted to the session file.
type Crawler struct {
	cfg     Config
	log     *zap.Logger
	metrics *telemetry.Metrics

	jar  *cookiejar.Jar
	base *colly.Collector
	sem  chan struct{}

	mu sync.Mutex // guards the login flow
}

// New builds a Crawler, loading any persisted session state.
func New(cfg Config, metrics *telemetry.Metrics, log *zap.Logger) (*Crawler, error) {
	cfg.applyDefaults()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("crawler: cookie jar: %w", err)
	}

	base := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	base.SetCookieJar(jar)
	base.SetRequestTimeout(cfg.Timeout)
	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("crawler: limit rule: %w", err)
	}

	c := &Crawler{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		jar:     jar,
		base:    base,
		sem:     make(chan struct{}, cfg.Parallelism),
	}
	if cfg.SessionFile != "" {
		if err := c.loadSession(); err != nil {
			log.Warn("no usable session state; login will be required", zap.Error(err))
		}
	}
	return c, nil
}

// FetchAll fetches every URL with bounded parallelism, rate limiting, and
// per-URL jittered retries. Per-URL failures are reported on the channel;
// they never abort the batch.
func (cr *Crawler) FetchAll(ctx context.Context, urls []string) <-chan Result {
	results := make(chan Result)
	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			cr.sem <- struct{}{}
			defer func() { <-cr.sem }()

			var html string
			err := backoff.Retry(ctx, backoff.Config{
				MaxRetries: cr.cfg.MaxRetries,
				Base:       cr.cfg.BaseDelay,
				Cap:        cr.cfg.MaxDelay,
				OnRetry:    cr.refreshSession,
			}, func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				h, err := cr.fetchOne(u)
				if err != nil {
					return err
				}
				html = h
				return nil
			})

			if cr.metrics != nil {
				if err != nil {
					cr.metrics.FetchFailures.Add(ctx, 1)
				} else {
					cr.metrics.FetchSuccesses.Add(ctx, 1)
				}
			}
			results <- Result{URL: u, HTML: html, Err: err}
		}(u)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// fetchOne performs a single synchronous page load through a collector
// clone. Clones share the base collector's backend, so the rate limiter and
// cookie jar apply across all in-flight fetches.
func (cr *Crawler) fetchOne(url string) (string, error) {
	c := cr.base.Clone()
	var (
		html string
		ferr error
	)
	c.OnResponse(func(r *colly.Response) {
		html = string(r.Body)
	})
	c.OnError(func(_ *colly.Response, err error) {
		ferr = err
	})
	if err := c.Visit(url); err != nil {
		return "", fmt.Errorf("crawler: visit %s: %w", url, err)
	}
	c.Wait()
	if ferr != nil {
		return "", fmt.Errorf("crawler: fetch %s: %w", url, ferr)
	}
	return html, nil
}

// refreshSession is the between-retries hook: a transient failure may mean
// the session went stale mid-batch.
func (cr *Crawler) refreshSession(ctx context.Context) {
	if err := cr.EnsureSession(ctx); err != nil {
		cr.log.Warn("session refresh failed", zap.Error(err))
	}
}
