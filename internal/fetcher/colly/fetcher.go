// Package collyfetcher implements the resilient fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/metrics"
)

// Diagnostic headers carried by the failure sentinel.
const (
	HeaderError   = "X-Error"
	HeaderRetries = "X-Retries"
)

const maxBodyBytes = 64 << 20

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	IgnoreRobots   bool
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
}

// Waiter gates requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements ingest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	policy        *ExponentialRetryPolicy
	limiter       Waiter
	pause         pauseController
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport(cfg.ConnectTimeout))
	return &Fetcher{
		cfg:           cfg,
		policy:        NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay),
		limiter:       limiter,
		pause:         &timerPauseController{},
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch issues a GET with bounded retries. It never returns an error: when
// every attempt fails the response carries status 599 and diagnostic headers.
func (f *Fetcher) Fetch(ctx context.Context, request ingest.Request) ingest.Response {
	target := request.FullURL()
	var (
		lastErr    error
		lastStatus int
		attempt    int
	)
	for attempt = 1; attempt <= f.policy.MaxAttempts(); attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, target); err != nil {
				lastErr = err
				break
			}
		}
		resp, err := f.attempt(ctx, request, target)
		if err == nil && !retryableStatus(resp.StatusCode) {
			resp.Attempts = attempt
			metrics.ObserveFetch(target, "ok", attempt-1)
			return resp
		}
		if err != nil {
			lastErr = err
			lastStatus = 0
		} else {
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			lastStatus = resp.StatusCode
		}
		if ctx.Err() != nil || !f.policy.ShouldRetry(err, resp.StatusCode, attempt) {
			break
		}
		delay := f.policy.Backoff(attempt)
		f.logger.Debug("fetch attempt failed, backing off",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Int("status", lastStatus),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		f.pause.Pause(ctx, delay)
	}
	if attempt > f.policy.MaxAttempts() {
		attempt = f.policy.MaxAttempts()
	}
	metrics.ObserveFetch(target, "failed", attempt-1)
	f.logger.Debug("fetch exhausted", zap.String("url", target), zap.Int("attempts", attempt), zap.Error(lastErr))
	return failureSentinel(target, lastErr, lastStatus, attempt)
}

func (f *Fetcher) attempt(ctx context.Context, request ingest.Request, target string) (ingest.Response, error) {
	var (
		result   ingest.Response
		fetchErr error
	)
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptBudget(request))
	defer cancel()

	collector := f.buildCollector(attemptCtx)
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)

	if err := collector.Request(http.MethodGet, target, nil, nil, cloneHeader(request.Headers)); err != nil {
		return ingest.Response{}, fmt.Errorf("colly request: %w", err)
	}
	if fetchErr != nil {
		return ingest.Response{}, fmt.Errorf("colly response: %w", fetchErr)
	}
	if result.StatusCode == 0 {
		return ingest.Response{}, errors.New("colly returned no response")
	}
	return result, nil
}

// attemptBudget bounds one attempt: connect and write are short, read dominates.
func (f *Fetcher) attemptBudget(request ingest.Request) time.Duration {
	read := f.cfg.ReadTimeout
	if request.ReadTimeout > 0 {
		read = request.ReadTimeout
	}
	return f.cfg.ConnectTimeout + f.cfg.WriteTimeout + read
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = f.cfg.IgnoreRobots
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = maxBodyBytes
	collector.Context = ctx
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request ingest.Request,
	start time.Time,
	result *ingest.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = ingest.Response{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func copyHeaders(src http.Header, r *colly.Request) {
	if src == nil || r.Headers == nil {
		return
	}
	for key, values := range src {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return http.Header{}
	}
	return src.Clone()
}

func failureSentinel(target string, lastErr error, lastStatus int, attempts int) ingest.Response {
	headers := http.Header{}
	headers.Set(HeaderRetries, strconv.Itoa(attempts))
	if lastErr != nil {
		headers.Set(HeaderError, errorClass(lastErr, lastStatus)+": "+lastErr.Error())
	}
	if lastStatus != 0 {
		headers.Set("X-Last-Status", strconv.Itoa(lastStatus))
	}
	return ingest.Response{
		URL:        target,
		StatusCode: ingest.StatusFetchFailed,
		Headers:    headers,
		Attempts:   attempts,
	}
}

func errorClass(err error, status int) string {
	var netErr net.Error
	switch {
	case status != 0:
		return "http_status"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return "protocol"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	default:
		return "error"
	}
}

// pauseController abstracts how the fetcher backs off between attempts.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func newHTTPTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
