// Package collyfetcher implements release.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/release-watcher/internal/metrics"
	"github.com/JakeFAU/release-watcher/internal/release"
)

const defaultTimeout = 5 * time.Minute

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Proxy is an optional forward proxy address such as http://127.0.0.1:3128.
	Proxy string
}

// Waiter throttles requests per host before they are sent.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements release.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	body   []byte
	status int
	err    error
}

// New builds a Fetcher. The limiter may be nil.
func New(cfg Config, limiter Waiter) (*Fetcher, error) {
	transport, err := newHTTPTransport(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)
	// Listing pages are polled repeatedly; the visited-URL store must not short-circuit them.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.DetectCharset = true
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
	}, nil
}

// Fetch executes a single HTTP GET and returns the response body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("throttle %s: %w", rawURL, err)
		}
	}

	var result fetchResult
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result)

	finished, visitErr := f.runCollector(ctx, collector, rawURL)
	if !finished {
		// The visit goroutine still owns result.
		metrics.ObserveFetch(rawURL, "canceled")
		return nil, &release.FetchError{URL: rawURL, Err: visitErr}
	}
	if err := classify(rawURL, result, visitErr); err != nil {
		metrics.ObserveFetch(rawURL, outcomeOf(err))
		return nil, err
	}
	metrics.ObserveFetch(rawURL, "ok")
	return result.body, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return true, fmt.Errorf("colly visit failed: %w", err)
		}
		return true, nil
	}
}

func classify(rawURL string, result fetchResult, visitErr error) error {
	err := result.err
	if err == nil {
		err = visitErr
	}
	if err == nil {
		return nil
	}
	fe := &release.FetchError{URL: rawURL, Status: result.status}
	switch {
	case result.status == http.StatusNotFound:
		fe.Err = fmt.Errorf("%w: %v", release.ErrNotFound, err)
	case isTransient(err) || isTransient(visitErr):
		fe.Err = fmt.Errorf("%w: %v", release.ErrTimeout, err)
	default:
		fe.Err = err
	}
	return fe
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, release.ErrNotFound):
		return "not_found"
	case errors.Is(err, release.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func newHTTPTransport(proxy string) (*http.Transport, error) {
	proxyFunc := http.ProxyFromEnvironment
	if strings.TrimSpace(proxy) != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy address %q", proxy)
		}
		proxyFunc = http.ProxyURL(u)
	}
	return &http.Transport{
		Proxy: proxyFunc,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}
