package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lox/turfweather/internal/httputil"
	"github.com/lox/turfweather/internal/metrics"
)

const (
	DefaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
	maxErrorBodyLen      = 512
)

// ClientOptions configures a provider client. Zero values pick defaults;
// a negative MaxRetries disables retries.
type ClientOptions struct {
	HTTPClient    *http.Client
	BaseURL       string
	MaxRetries    int
	RetryInterval time.Duration
	Cache         *ResponseCache
	Debug         bool
}

// fetcher performs GET requests with retry, a circuit breaker, response
// caching and metrics. It is shared by every provider client.
type fetcher struct {
	provider      string
	client        *http.Client
	breaker       *gobreaker.CircuitBreaker
	cache         *ResponseCache
	maxRetries    int
	retryInterval time.Duration
	debug         bool
}

type fetchResult struct {
	Body   []byte
	Status int
	Cached bool

	key string
}

// statusError is a non-2xx response. Rate limits and server errors are
// retryable; anything else is not.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// breakerSuccess keeps client errors such as a bad key or bad parameters
// from opening the breaker; only transport failures, rate limits and server
// errors count against the provider.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return !se.retryable()
	}
	return false
}

func newFetcher(provider string, opts ClientOptions) *fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = httputil.NewClient(0)
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = DefaultMaxRetries
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	return &fetcher{
		provider: provider,
		client:   client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:         provider,
			MaxRequests:  5,
			Interval:     time.Minute,
			Timeout:      2 * time.Minute,
			IsSuccessful: breakerSuccess,
		}),
		cache:         opts.Cache,
		maxRetries:    retries,
		retryInterval: interval,
		debug:         opts.Debug,
	}
}

// get fetches u, serving from the cache unless ctx asks for fresh data.
// Exhausted retries surface as *TransportError. Fresh bodies are not cached
// here; callers hand them to remember once they have parsed.
func (f *fetcher) get(ctx context.Context, endpoint string, u *url.URL) (*fetchResult, error) {
	key := cacheKey(u)
	if !wantsFresh(ctx) {
		if body, ok := f.cache.Get(key); ok {
			metrics.ProviderCacheHits.WithLabelValues(f.provider).Inc()
			if f.debug {
				log.Printf("%s: cache hit for %s", f.provider, endpoint)
			}
			return &fetchResult{Body: body, Status: http.StatusOK, Cached: true, key: key}, nil
		}
	}

	var (
		body       []byte
		lastStatus int
	)
	operation := func() error {
		start := time.Now()
		result, err := f.breaker.Execute(func() (interface{}, error) {
			return f.do(ctx, u)
		})
		metrics.ProviderLatency.WithLabelValues(f.provider, endpoint).Observe(time.Since(start).Seconds())

		var se *statusError
		switch {
		case err == nil:
			metrics.ProviderCallsTotal.WithLabelValues(f.provider, endpoint, "200").Inc()
			body = result.([]byte)
			lastStatus = http.StatusOK
			return nil
		case errors.As(err, &se):
			metrics.ProviderCallsTotal.WithLabelValues(f.provider, endpoint, strconv.Itoa(se.code)).Inc()
			lastStatus = se.code
			if !se.retryable() {
				return backoff.Permanent(err)
			}
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.ProviderCallsTotal.WithLabelValues(f.provider, endpoint, "circuit_open").Inc()
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		default:
			metrics.ProviderCallsTotal.WithLabelValues(f.provider, endpoint, "error").Inc()
		}
		log.Printf("%s: %s attempt failed: %v", f.provider, endpoint, err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.retryInterval
	bo.MaxInterval = 10 * f.retryInterval
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(f.maxRetries)), ctx)); err != nil {
		return nil, &TransportError{Provider: f.provider, Endpoint: endpoint, StatusCode: lastStatus, Err: err}
	}

	if f.debug {
		log.Printf("%s: fetched %s (%d bytes)", f.provider, endpoint, len(body))
	}
	return &fetchResult{Body: body, Status: lastStatus, key: key}, nil
}

// remember caches a body that decoded cleanly.
func (f *fetcher) remember(res *fetchResult) {
	if res.Cached {
		return
	}
	f.cache.Set(res.key, res.Body)
}

func (f *fetcher) do(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: truncateBody(body)}
	}
	return body, nil
}

func truncateBody(b []byte) string {
	if len(b) <= maxErrorBodyLen {
		return string(b)
	}
	return string(b[:maxErrorBodyLen]) + "...(truncated)"
}
