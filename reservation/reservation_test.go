package reservation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklabs/reservoir/catalog"
	"github.com/fenwicklabs/reservoir/invoker"
	"github.com/fenwicklabs/reservoir/plugin"
)

type fakeCatalog struct {
	inserted []catalog.Reservation
	failOn   func(catalog.Reservation) error
}

func (f *fakeCatalog) StreamReservations(ctx context.Context, chunkSize int, fn func(catalog.Reservation) error) error {
	return nil
}
func (f *fakeCatalog) GetReservation(ctx context.Context, uuid string) (catalog.Reservation, error) {
	return catalog.Reservation{}, catalog.ErrNotFound
}
func (f *fakeCatalog) GetAccount(ctx context.Context, service string, accountID int64) (map[string]string, error) {
	return nil, catalog.ErrNotFound
}
func (f *fakeCatalog) InsertReservation(ctx context.Context, r catalog.Reservation) error {
	if f.failOn != nil {
		if err := f.failOn(r); err != nil {
			return err
		}
	}
	f.inserted = append(f.inserted, r)
	return nil
}
func (f *fakeCatalog) DeleteReservation(ctx context.Context, uuid string) error { return nil }

func newTestServer(t *testing.T, reg *plugin.Registry, cat *fakeCatalog, schedulerURL string) *Server {
	t.Helper()
	inv := invoker.New(reg)
	return NewServer(Config{SchedulerURL: schedulerURL}, reg, inv, cat)
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path+"?"+form.Encode(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestOneShotInvokesWithoutUUID(t *testing.T) {
	var sawUUID bool
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name:  "svc/oneshot",
		Flags: plugin.Flags{WantsUUID: true},
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			_, sawUUID = args[plugin.ArgReservationUUID]
			return "done", nil
		},
	}))
	srv := newTestServer(t, reg, &fakeCatalog{}, "")

	rec := postForm(t, srv.Handler(), "/function/svc/oneshot", url.Values{})
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "done")
	assert.False(t, sawUUID)
}

func TestRecurringMintsUUIDAndNotifiesScheduler(t *testing.T) {
	var notified string
	schedulerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notified = r.URL.Query().Get("uuid")
		w.WriteHeader(200)
	}))
	defer schedulerSrv.Close()

	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name:            "svc/recurring",
		IntervalSeconds: 60,
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return "fired", nil
		},
	}))
	cat := &fakeCatalog{}
	srv := newTestServer(t, reg, cat, schedulerSrv.URL)

	rec := postForm(t, srv.Handler(), "/function/svc/recurring", url.Values{"account_id": {"42"}})
	assert.Equal(t, 200, rec.Code)
	require.Len(t, cat.inserted, 1)
	assert.Equal(t, int64(42), cat.inserted[0].AccountID)
	assert.NotEmpty(t, notified)
	assert.Equal(t, cat.inserted[0].UUID, notified)
}

func TestMissingRequiredArgRejected(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name:         "svc/needsarg",
		RequiredArgs: []string{"token"},
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return "ok", nil
		},
	}))
	srv := newTestServer(t, reg, &fakeCatalog{}, "")

	rec := postForm(t, srv.Handler(), "/function/svc/needsarg", url.Values{})
	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestUnknownFunctionRejected(t *testing.T) {
	srv := newTestServer(t, plugin.NewRegistry(), &fakeCatalog{}, "")
	rec := postForm(t, srv.Handler(), "/function/svc/nope", url.Values{})
	assert.Equal(t, 400, rec.Code)
}

func TestUnrecognizedArgsDropped(t *testing.T) {
	var sawArgs map[string]string
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name:         "svc/strict",
		RequiredArgs: []string{"token"},
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			sawArgs = args
			return "ok", nil
		},
	}))
	srv := newTestServer(t, reg, &fakeCatalog{}, "")

	rec := postForm(t, srv.Handler(), "/function/svc/strict", url.Values{"token": {"abc"}, "extra": {"drop-me"}})
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, map[string]string{"token": "abc"}, sawArgs)
}

func TestWrongMethodRejected(t *testing.T) {
	reg := plugin.NewRegistry()
	srv := newTestServer(t, reg, &fakeCatalog{}, "")
	req := httptest.NewRequest(http.MethodGet, "/function/svc/whatever", strings.NewReader(""))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
