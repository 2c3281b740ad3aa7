// Package rq implements the Request Queuer: a per-host rate-limited,
// concurrency-capped HTTP client, spec.md §4.1. The dispatch loop is the
// single writer of the pending/active tables (spec.md §5); per-host pacing
// is delegated to a golang.org/x/time/rate.Limiter so ordering and
// prioritization stay testable invariants (spec.md §8) while the "N
// requests per interval" bookkeeping itself is the standard token bucket
// rather than a hand-rolled timestamp comparison.
package rq

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fenwicklabs/reservoir/errors"
	"github.com/fenwicklabs/reservoir/internal/httpclient"
	"github.com/fenwicklabs/reservoir/logger"
)

// Response is the RQ contract's success shape (spec.md §4.1).
type Response struct {
	Body    []byte
	Header  http.Header
	Status  int
	Message string
}

// Request describes one outbound fetch (spec.md §4.1's getPage options).
type Request struct {
	Method         string
	URL            string
	Header         http.Header
	Timeout        time.Duration
	PostData       []byte
	FollowRedirect bool
	Prioritize     bool
}

// Config tunes RQ's global and default per-host caps (spec.md §4.1).
type Config struct {
	MaxSimultaneous           int
	MinRequestIntervalPerHost time.Duration
	MaxSimultaneousPerHost    int
	// PerHostInterval/PerHostConcurrency override the defaults for
	// specific hosts, grounded on teranos-QNTX's am.HTTPDomainLimits.
	PerHostInterval    map[string]time.Duration
	PerHostConcurrency map[string]int
	// DispatchInterval is how often the scheduling step re-runs when no
	// host was dispatchable (spec.md §4.1: "~100 ms").
	DispatchInterval time.Duration
}

// DefaultConfig returns conservative defaults matching spec.md §4.1.
func DefaultConfig() Config {
	return Config{
		MaxSimultaneous:           50,
		MinRequestIntervalPerHost: time.Second,
		MaxSimultaneousPerHost:    5,
		PerHostInterval:           map[string]time.Duration{},
		PerHostConcurrency:        map[string]int{},
		DispatchInterval:          100 * time.Millisecond,
	}
}

type pending struct {
	req      Request
	host     string
	done     chan result
}

type result struct {
	resp *Response
	err  error
}

// RQ is the Request Queuer. Host 127.0.0.1 is always uncapped (spec.md
// §4.1).
type RQ struct {
	cfg    Config
	client *httpclient.SaferClient

	mu          sync.Mutex
	queue       []*pending
	active      map[string]int
	limiters    map[string]*rate.Limiter
	totalActive int

	wake chan struct{}
}

// New builds an RQ around a SaferClient (internal/httpclient), the same
// SSRF-guarded transport teranos-QNTX uses for all outbound fetches, and
// starts its dispatch loop.
func New(ctx context.Context, cfg Config, client *httpclient.SaferClient) *RQ {
	if client == nil {
		client = httpclient.NewSaferClient(60 * time.Second)
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 100 * time.Millisecond
	}
	rq := &RQ{
		cfg:      cfg,
		client:   client,
		active:   make(map[string]int),
		limiters: make(map[string]*rate.Limiter),
		wake:     make(chan struct{}, 1),
	}
	go rq.run(ctx)
	return rq
}

// GetPage enqueues req and blocks until it is dispatched and completes, or
// ctx is canceled.
func (rq *RQ) GetPage(ctx context.Context, req Request) (*Response, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse url %s", req.URL)
	}
	p := &pending{req: req, host: parsed.Hostname(), done: make(chan result, 1)}

	rq.mu.Lock()
	if req.Prioritize {
		rq.queue = append([]*pending{p}, rq.queue...)
	} else {
		rq.queue = append(rq.queue, p)
	}
	rq.mu.Unlock()
	rq.signal()

	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (rq *RQ) signal() {
	select {
	case rq.wake <- struct{}{}:
	default:
	}
}

// run is the single-writer dispatch loop (spec.md §4.1, §5).
func (rq *RQ) run(ctx context.Context) {
	ticker := time.NewTicker(rq.cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		rq.step(ctx)
		select {
		case <-ctx.Done():
			return
		case <-rq.wake:
		case <-ticker.C:
		}
	}
}

// step performs one scheduling pass: dispatch every currently-dispatchable
// head-of-bucket request, then return (spec.md §4.1 dispatch algorithm).
func (rq *RQ) step(ctx context.Context) {
	for {
		p, ok := rq.popDispatchable()
		if !ok {
			return
		}
		go rq.dispatch(ctx, p)
	}
}

func (rq *RQ) popDispatchable() (*pending, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	for i, p := range rq.queue {
		if !rq.dispatchableLocked(p.host) {
			continue
		}
		rq.queue = append(rq.queue[:i:i], rq.queue[i+1:]...)
		rq.active[p.host]++
		rq.totalActive++
		return p, true
	}
	return nil, false
}

// dispatchableLocked decides whether host has room under the global cap,
// its per-host concurrency cap, and its per-host rate limiter. The rate
// check is last and, on success, consumes the limiter's token for this
// dispatch; a failed Allow() never consumes one, so re-checking a host
// across calls to popDispatchable is free.
func (rq *RQ) dispatchableLocked(host string) bool {
	if host == "127.0.0.1" {
		return true
	}
	if rq.totalActive >= maxInt(rq.cfg.MaxSimultaneous, 1) {
		return false
	}
	concurrency := rq.cfg.MaxSimultaneousPerHost
	if override, ok := rq.cfg.PerHostConcurrency[host]; ok {
		concurrency = override
	}
	if rq.active[host] >= maxInt(concurrency, 1) {
		return false
	}
	return rq.limiterFor(host).Allow()
}

// limiterFor returns host's token-bucket limiter, creating it on first use
// from the configured (or per-host overridden) minimum interval. Burst is 1:
// one request may fire immediately, subsequent ones are paced at interval.
func (rq *RQ) limiterFor(host string) *rate.Limiter {
	if l, ok := rq.limiters[host]; ok {
		return l
	}
	interval := rq.cfg.MinRequestIntervalPerHost
	if override, ok := rq.cfg.PerHostInterval[host]; ok {
		interval = override
	}
	l := rate.NewLimiter(rate.Every(interval), 1)
	rq.limiters[host] = l
	return l
}

func (rq *RQ) dispatch(ctx context.Context, p *pending) {
	defer rq.release(p.host)

	logger.RQDebugw("dispatching request", "url", p.req.URL, "host", p.host, "method", p.req.Method)

	resp, err := rq.doFetch(ctx, p.req)
	p.done <- result{resp: resp, err: err}
	rq.signal()
}

func (rq *RQ) release(host string) {
	rq.mu.Lock()
	rq.active[host]--
	rq.totalActive--
	if rq.active[host] <= 0 {
		delete(rq.active, host)
	}
	rq.mu.Unlock()
}

func (rq *RQ) doFetch(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := rq.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := rq.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", req.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read body %s", req.URL)
	}

	return &Response{
		Body:    body,
		Header:  resp.Header,
		Status:  resp.StatusCode,
		Message: resp.Status,
	}, nil
}

func (rq *RQ) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.PostData) > 0 {
		body = bytes.NewReader(req.PostData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build request %s", req.URL)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return httpReq, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
