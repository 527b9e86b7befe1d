// Package fetcher is the robots.txt-aware HTTP client behind discovery: it
// performs the network fetch for one source, records a DiscoveryRun, and
// advances the source's scheduling state.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ezalhq/radar/internal/util"
)

// Options tunes a Fetcher. Zero values fall back to sensible defaults.
type Options struct {
	UserAgent     string
	FetchTimeout  time.Duration
	RobotsTimeout time.Duration
	RobotsTTL     time.Duration
	PerOriginRPS  float64
}

type Fetcher struct {
	client        *http.Client
	userAgent     string
	fetchTimeout  time.Duration
	robotsTimeout time.Duration
	robots        *RobotsCache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
}

func New(opts Options) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "EzalRadarBot/1.0 (+https://ezalhq.com/radar)"
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.RobotsTimeout <= 0 {
		opts.RobotsTimeout = 5 * time.Second
	}
	if opts.RobotsTTL <= 0 {
		opts.RobotsTTL = time.Hour
	}
	if opts.PerOriginRPS <= 0 {
		opts.PerOriginRPS = 1
	}
	return &Fetcher{
		client:        &http.Client{Timeout: opts.FetchTimeout},
		userAgent:     opts.UserAgent,
		fetchTimeout:  opts.FetchTimeout,
		robotsTimeout: opts.RobotsTimeout,
		robots:        NewRobotsCache(opts.RobotsTTL),
		limiters:      make(map[string]*rate.Limiter),
		rps:           opts.PerOriginRPS,
	}
}

// RobotsCache exposes the cache for clock injection in tests.
func (f *Fetcher) RobotsCache() *RobotsCache {
	return f.robots
}

// FetchOptions carries per-request overrides merged into the outbound GET.
type FetchOptions struct {
	Headers map[string]string
	Timeout time.Duration
}

// FetchResult is the structured outcome of one fetch. FetchURL never returns
// a Go error; transport failures land in Success=false plus Error.
type FetchResult struct {
	Success     bool
	StatusCode  int
	Body        []byte
	ContentType string
	ContentHash string
	Duration    time.Duration
	Error       string
}

const maxBodyBytes = 10 << 20 // 10 MiB cap on fetched menu pages

// FetchURL issues a rate-limited HTTP GET with the engine's user agent and a
// bounded timeout. Network and HTTP-status failures are captured as a
// structured failure result, never an error value.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string, opts FetchOptions) FetchResult {
	start := time.Now()
	fail := func(msg string) FetchResult {
		return FetchResult{Success: false, Error: msg, Duration: time.Since(start)}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.fetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := f.waitOrigin(ctx, rawURL); err != nil {
		return fail("rate limit wait cancelled: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fail("invalid request: " + err.Error())
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return fail("fetch failed: " + err.Error())
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fail("read body failed: " + err.Error())
	}

	result := FetchResult{
		StatusCode:  res.StatusCode,
		Body:        body,
		ContentType: res.Header.Get("Content-Type"),
		ContentHash: HashContent(body),
		Duration:    time.Since(start),
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		result.Error = "unexpected status " + res.Status
		return result
	}
	result.Success = true
	return result
}

// HashContent is the dedup hash over a fetched body.
func HashContent(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}

// waitOrigin blocks on the origin's token bucket, creating it on first use.
func (f *Fetcher) waitOrigin(ctx context.Context, rawURL string) error {
	origin, err := util.Origin(rawURL)
	if err != nil {
		// Invalid URLs fail later in request construction.
		return nil
	}
	f.mu.Lock()
	limiter, ok := f.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.rps), 1)
		f.limiters[origin] = limiter
	}
	f.mu.Unlock()
	return limiter.Wait(ctx)
}
