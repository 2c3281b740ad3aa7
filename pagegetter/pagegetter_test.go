package pagegetter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklabs/reservoir/blob"
	"github.com/fenwicklabs/reservoir/internal/httpclient"
	"github.com/fenwicklabs/reservoir/rq"
)

func newTestPageGetter(ctx context.Context) (*PageGetter, *blob.MemStore) {
	cfg := rq.DefaultConfig()
	cfg.MinRequestIntervalPerHost = 0
	r := rq.New(ctx, cfg, httpclient.WrapClient(&http.Client{}))
	store := blob.NewMemStore()
	return New(r, store), store
}

func TestGetPageBypassWritesThroughCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pg, store := newTestPageGetter(ctx)

	resp, err := pg.GetPage(ctx, Request{URL: srv.URL, CacheMode: ModeBypass})
	require.NoError(t, err)
	assert.Equal(t, "body", string(resp.Body))
	assert.False(t, resp.CacheHit)

	time.Sleep(20 * time.Millisecond)
	_, err = store.Get(ctx, cacheKey(Request{URL: srv.URL, CacheMode: ModeBypass}))
	assert.NoError(t, err, "bypass still write-through caches on success")
}

func TestGetPageCacheFirstHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pg, store := newTestPageGetter(ctx)

	key := cacheKey(Request{URL: srv.URL, CacheMode: ModeCacheFirst})
	require.NoError(t, store.Put(ctx, key, []byte("cached"), map[string]string{
		metaContentSHA1: sha1Hex([]byte("cached")),
	}))

	resp, err := pg.GetPage(ctx, Request{URL: srv.URL, CacheMode: ModeCacheFirst})
	require.NoError(t, err)
	assert.Equal(t, "cached", string(resp.Body))
	assert.True(t, resp.CacheHit)
}

func TestGetPageCacheFirstMissFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fetched"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pg, _ := newTestPageGetter(ctx)

	resp, err := pg.GetPage(ctx, Request{URL: srv.URL, CacheMode: ModeCacheFirst})
	require.NoError(t, err)
	assert.Equal(t, "fetched", string(resp.Body))
	assert.False(t, resp.CacheHit)
}

func TestGetPageStaleContentSignaled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("same-body"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pg, _ := newTestPageGetter(ctx)

	sum := sha1Hex([]byte("same-body"))
	_, err := pg.GetPage(ctx, Request{URL: srv.URL, CacheMode: ModeBypass, ContentSHA1: sum})
	assert.ErrorIs(t, err, ErrStaleContent)
}

func TestGetPageBypassRecordsContentChange(t *testing.T) {
	var body int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&body) == 0 {
			w.Write([]byte("A"))
		} else {
			w.Write([]byte("B"))
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pg, store := newTestPageGetter(ctx)

	req := Request{URL: srv.URL, CacheMode: ModeBypass, ConfirmCacheWrite: true}

	_, err := pg.GetPage(ctx, req)
	require.NoError(t, err)

	atomic.StoreInt32(&body, 1)
	_, err = pg.GetPage(ctx, req)
	require.NoError(t, err)

	obj, err := store.Get(ctx, cacheKey(req))
	require.NoError(t, err)
	changes := parseTimestamps(obj.Metadata[metaContentChanges])
	assert.Len(t, changes, 1)
}

func TestRevalidateUsesConditionalHeaders(t *testing.T) {
	var sawIfNoneMatch string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawIfNoneMatch = r.Header.Get("If-None-Match")
		if sawIfNoneMatch == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pg, store := newTestPageGetter(ctx)

	key := cacheKey(Request{URL: srv.URL, CacheMode: ModeRevalidate})
	require.NoError(t, store.Put(ctx, key, []byte("content"), map[string]string{
		metaContentSHA1:  sha1Hex([]byte("content")),
		metaCacheETag:    `"v1"`,
		metaCacheExpires: "1", // already expired
	}))

	resp, err := pg.GetPage(ctx, Request{URL: srv.URL, CacheMode: ModeRevalidate})
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, sawIfNoneMatch)
	assert.Equal(t, "content", string(resp.Body))
	assert.True(t, resp.CacheHit)
}

func TestRevalidateWithinTTLSkipsFetch(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pg, store := newTestPageGetter(ctx)

	key := cacheKey(Request{URL: srv.URL, CacheMode: ModeRevalidate})
	require.NoError(t, store.Put(ctx, key, []byte("content"), map[string]string{
		metaContentSHA1:  sha1Hex([]byte("content")),
		metaCacheExpires: strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	}))

	resp, err := pg.GetPage(ctx, Request{URL: srv.URL, CacheMode: ModeRevalidate})
	require.NoError(t, err)
	assert.Equal(t, "content", string(resp.Body))
	assert.Equal(t, int32(0), atomic.LoadInt32(&fetches))
}
