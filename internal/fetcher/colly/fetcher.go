// Package collyfetcher implements pipeline.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/metrics"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// DefaultUserAgent identifies the crawler to the sites it analyzes.
const DefaultUserAgent = "Mozilla/5.0 (compatible; SEOBot/1.0)"

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Waiter delays a fetch until the target host may be contacted again.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements pipeline.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       Waiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchFailure captures what OnError saw so the caller can build a CrawlError.
type fetchFailure struct {
	statusCode int
	err        error
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = newRobotsTransport(transport, logger)
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET. Any failure is a *pipeline.CrawlError.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	start := time.Now()
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			metrics.ObserveCrawl("error", time.Since(start))
			return pipeline.FetchResponse{}, &pipeline.CrawlError{URL: request.URL, Err: err}
		}
	}

	result, err := f.runCollector(ctx, request.URL, start)
	if err != nil {
		metrics.ObserveCrawl("error", time.Since(start))
		f.logger.Debug("fetch failed", zap.String("url", request.URL), zap.Error(err))
		return pipeline.FetchResponse{}, err
	}
	metrics.ObserveCrawl("success", result.Duration)
	return result, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	// Clones share visited storage; reanalysis revisits the same URL.
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *pipeline.FetchResponse,
	failure *fetchFailure,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = pipeline.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		failure.err = err
		if r != nil {
			failure.statusCode = r.StatusCode
		}
	})
}

// visit is what one collector run produced. Each run owns its own visit, so a run
// abandoned on cancellation never writes to state the caller still reads.
type visit struct {
	response pipeline.FetchResponse
	failure  fetchFailure
	err      error
}

func (f *Fetcher) runCollector(ctx context.Context, url string, start time.Time) (pipeline.FetchResponse, error) {
	done := make(chan visit, 1)
	go func() {
		var v visit
		collector := f.buildCollector()
		f.configureCollectorHooks(collector, start, &v.response, &v.failure)
		v.err = collector.Visit(url)
		done <- v
	}()

	select {
	case <-ctx.Done():
		return pipeline.FetchResponse{}, &pipeline.CrawlError{URL: url, Err: fmt.Errorf("fetch canceled: %w", ctx.Err())}
	case v := <-done:
		err := v.err
		if err == nil {
			err = v.failure.err
		}
		if err == nil {
			return v.response, nil
		}
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return pipeline.FetchResponse{}, &pipeline.CrawlError{URL: url, Err: fmt.Errorf("disallowed by robots.txt: %w", err)}
		}
		return pipeline.FetchResponse{}, &pipeline.CrawlError{URL: url, StatusCode: v.failure.statusCode, Err: err}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
