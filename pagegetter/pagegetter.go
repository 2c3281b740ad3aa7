// Package pagegetter implements the Page Getter: a content-addressed HTTP
// cache over an object store, with conditional GET, change detection, and
// stale-content suppression, spec.md §4.2.
package pagegetter

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fenwicklabs/reservoir/blob"
	"github.com/fenwicklabs/reservoir/errors"
	"github.com/fenwicklabs/reservoir/logger"
	"github.com/fenwicklabs/reservoir/rq"
)

// CacheMode selects the Page Getter's fetch strategy (spec.md §4.2,
// glossary "Cache mode −1/0/1").
type CacheMode int

const (
	ModeBypass     CacheMode = -1
	ModeRevalidate CacheMode = 0
	ModeCacheFirst CacheMode = 1
)

// ErrStaleContent signals the caller's content_sha1 matches what would be
// returned; this is flow control, never a bug (spec.md §7, redesigned per
// §9 as a sentinel rather than an exception).
var ErrStaleContent = errors.New("pagegetter: stale content")

const (
	maxContentChanges  = 10
	maxRequestFailures = 3
)

// Side-channel metadata keys carried with each cache entry (spec.md §3).
const (
	metaContentSHA1       = "content-sha1"
	metaCacheExpires      = "cache-expires"
	metaCacheETag         = "cache-etag"
	metaCacheLastModified = "cache-last-modified"
	metaContentChanges    = "content-changes"
	metaRequestFailures   = "request-failures"
)

// Request is the Page Getter's getPage contract (spec.md §4.2), a superset
// of rq.Request.
type Request struct {
	Method            string
	URL               string
	HashURL           string // coalesces equivalent URLs into one cache key
	Header            http.Header
	Agent             string
	Cookies           string
	CacheMode         CacheMode
	ContentSHA1       string
	ConfirmCacheWrite bool
	TTL               time.Duration // how long a freshly-cached entry stays valid
}

// Response is the Page Getter's success shape (spec.md §4.2).
type Response struct {
	Body        []byte
	Header      http.Header
	Status      int
	Message     string
	ContentSHA1 string
	CacheHit    bool
}

// PageGetter is the conditional HTTP cache.
type PageGetter struct {
	rq    *rq.RQ
	cache blob.Store
}

// New builds a Page Getter around an RQ instance and a cache bucket.
func New(r *rq.RQ, cache blob.Store) *PageGetter {
	return &PageGetter{rq: r, cache: cache}
}

// GetPage fetches url according to req.CacheMode, returning ErrStaleContent
// when req.ContentSHA1 matches the resource's current content.
func (pg *PageGetter) GetPage(ctx context.Context, req Request) (*Response, error) {
	key := cacheKey(req)

	if req.Method != "" && req.Method != http.MethodGet {
		return pg.passThrough(ctx, req, key)
	}

	switch req.CacheMode {
	case ModeCacheFirst:
		if obj, err := pg.cache.Get(ctx, key); err == nil {
			return pg.fromCacheObject(obj, req)
		}
		return pg.bypass(ctx, req, key)
	case ModeRevalidate:
		return pg.revalidate(ctx, req, key)
	default: // ModeBypass
		return pg.bypass(ctx, req, key)
	}
}

func (pg *PageGetter) passThrough(ctx context.Context, req Request, key string) (*Response, error) {
	resp, err := pg.fetch(ctx, req)
	if err != nil {
		pg.recordFailure(ctx, key)
		return nil, err
	}
	sum := sha1Hex(resp.Body)
	if req.ContentSHA1 != "" && sum == req.ContentSHA1 {
		return nil, ErrStaleContent
	}
	resp.ContentSHA1 = sum
	return resp, nil
}

// bypass fetches via RQ unconditionally and write-through caches on
// success (spec.md §4.2 "−1 (bypass)"). It still loads any existing cache
// entry first so handleFetched can raise ErrStaleContent and record
// content-change history the same way revalidate does.
func (pg *PageGetter) bypass(ctx context.Context, req Request, key string) (*Response, error) {
	resp, err := pg.fetch(ctx, req)
	if err != nil {
		pg.recordFailure(ctx, key)
		return nil, err
	}
	var prior *blob.Object
	if obj, err := pg.cache.Get(ctx, key); err == nil {
		prior = &obj
	}
	return pg.handleFetched(ctx, req, key, resp, prior)
}

// revalidate implements spec.md §4.2's "0 (revalidate)" mode.
func (pg *PageGetter) revalidate(ctx context.Context, req Request, key string) (*Response, error) {
	obj, err := pg.cache.Get(ctx, key)
	if err != nil {
		return pg.bypass(ctx, req, key)
	}

	expires := parseUnix(obj.Metadata[metaCacheExpires])
	storedSHA1 := obj.Metadata[metaContentSHA1]

	if time.Now().Before(expires) {
		if req.ContentSHA1 != "" && req.ContentSHA1 == storedSHA1 {
			return nil, ErrStaleContent
		}
		return pg.fromCacheObject(obj, req)
	}

	condReq := req
	if condReq.Header == nil {
		condReq.Header = make(http.Header)
	}
	if etag := obj.Metadata[metaCacheETag]; etag != "" {
		condReq.Header.Set("If-None-Match", etag)
	}
	if lm := obj.Metadata[metaCacheLastModified]; lm != "" {
		condReq.Header.Set("If-Modified-Since", lm)
	}

	resp, err := pg.fetch(ctx, condReq)
	if err != nil {
		pg.recordFailure(ctx, key)
		return nil, err
	}
	if resp.Status == http.StatusNotModified {
		return pg.fromCacheObject(obj, req)
	}
	return pg.handleFetched(ctx, req, key, resp, &obj)
}

// handleFetched applies content-change detection, no-cache directives, and
// writes the fresh entry (spec.md §4.2).
func (pg *PageGetter) handleFetched(ctx context.Context, req Request, key string, resp *Response, prior *blob.Object) (*Response, error) {
	sum := sha1Hex(resp.Body)
	resp.ContentSHA1 = sum

	if req.ContentSHA1 != "" && req.ContentSHA1 == sum {
		return nil, ErrStaleContent
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Cache-Control")), "no-cache") {
		return resp, nil
	}

	metadata := pg.buildMetadata(resp, prior, sum, req.TTL)

	write := func() error { return pg.cache.Put(ctx, key, resp.Body, metadata) }
	if req.ConfirmCacheWrite {
		if err := write(); err != nil {
			logger.PageGetterInfow("cache write failed", "key", key, "error", err)
		}
	} else {
		go func() {
			if err := write(); err != nil {
				logger.PageGetterInfow("async cache write failed", "key", key, "error", err)
			}
		}()
	}

	return resp, nil
}

func (pg *PageGetter) buildMetadata(resp *Response, prior *blob.Object, sum string, ttl time.Duration) map[string]string {
	metadata := map[string]string{
		metaContentSHA1: sum,
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		metadata[metaCacheETag] = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		metadata[metaCacheLastModified] = lm
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	metadata[metaCacheExpires] = strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)

	var changes []int64
	var failures []int64
	if prior != nil {
		changes = parseTimestamps(prior.Metadata[metaContentChanges])
		failures = parseTimestamps(prior.Metadata[metaRequestFailures])
		if prior.Metadata[metaContentSHA1] != "" && prior.Metadata[metaContentSHA1] != sum {
			changes = appendCapped(changes, time.Now().Unix(), maxContentChanges)
		}
	}
	if len(changes) > 0 {
		metadata[metaContentChanges] = joinTimestamps(changes)
	}
	if len(failures) > 0 {
		metadata[metaRequestFailures] = joinTimestamps(failures)
	}
	return metadata
}

func (pg *PageGetter) fromCacheObject(obj blob.Object, req Request) (*Response, error) {
	sum := obj.Metadata[metaContentSHA1]
	if req.ContentSHA1 != "" && req.ContentSHA1 == sum {
		return nil, ErrStaleContent
	}
	return &Response{
		Body:        obj.Body,
		Header:      http.Header{},
		Status:      http.StatusOK,
		ContentSHA1: sum,
		CacheHit:    true,
	}, nil
}

func (pg *PageGetter) recordFailure(ctx context.Context, key string) {
	obj, err := pg.cache.Get(ctx, key)
	var failures []int64
	metadata := map[string]string{}
	if err == nil {
		failures = parseTimestamps(obj.Metadata[metaRequestFailures])
		metadata = obj.Metadata
	}
	failures = appendCapped(failures, time.Now().Unix(), maxRequestFailures)
	metadata[metaRequestFailures] = joinTimestamps(failures)

	body := []byte{}
	if err == nil {
		body = obj.Body
	}
	if putErr := pg.cache.Put(ctx, key, body, metadata); putErr != nil {
		logger.PageGetterInfow("failed to record request failure", "key", key, "error", putErr)
	}
}

func (pg *PageGetter) fetch(ctx context.Context, req Request) (*Response, error) {
	header := req.Header
	if header == nil {
		header = make(http.Header)
	}
	if req.Agent != "" {
		header.Set("User-Agent", req.Agent)
	}
	if req.Cookies != "" {
		header.Set("Cookie", req.Cookies)
	}

	rqResp, err := pg.rq.GetPage(ctx, rq.Request{
		Method: req.Method,
		URL:    req.URL,
		Header: header,
	})
	if err != nil {
		return nil, err
	}

	return &Response{
		Body:    rqResp.Body,
		Header:  rqResp.Header,
		Status:  rqResp.Status,
		Message: rqResp.Message,
	}, nil
}

// cacheKey derives the cache key: SHA-1 of (hash_url ?? url, headers,
// agent, cookies), spec.md §4.2.
func cacheKey(req Request) string {
	url := req.URL
	if req.HashURL != "" {
		url = req.HashURL
	}

	var headerKeys []string
	for k := range req.Header {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range headerKeys {
		b.WriteString(k)
		b.WriteString(strings.Join(req.Header[k], ","))
	}
	b.WriteString(req.Agent)
	b.WriteString(req.Cookies)

	return sha1Hex([]byte(b.String()))
}

func sha1Hex(body []byte) string {
	sum := sha1.Sum(body)
	return hex.EncodeToString(sum[:])
}

func parseUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func parseTimestamps(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func joinTimestamps(ts []int64) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = fmt.Sprintf("%d", t)
	}
	return strings.Join(parts, ",")
}

func appendCapped(ts []int64, v int64, cap int) []int64 {
	ts = append(ts, v)
	if len(ts) > cap {
		ts = ts[len(ts)-cap:]
	}
	return ts
}
