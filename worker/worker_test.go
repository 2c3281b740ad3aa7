package worker

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklabs/reservoir/blob"
	"github.com/fenwicklabs/reservoir/broker"
	"github.com/fenwicklabs/reservoir/cache"
	"github.com/fenwicklabs/reservoir/catalog"
	"github.com/fenwicklabs/reservoir/invoker"
	"github.com/fenwicklabs/reservoir/plugin"
)

type fakeCatalog struct {
	reservations map[string]catalog.Reservation
	accounts     map[string]map[string]string // "service:accountID" -> row
	deleted      []string
}

func (f *fakeCatalog) StreamReservations(ctx context.Context, chunkSize int, fn func(catalog.Reservation) error) error {
	return nil
}
func (f *fakeCatalog) GetReservation(ctx context.Context, uuid string) (catalog.Reservation, error) {
	r, ok := f.reservations[uuid]
	if !ok {
		return catalog.Reservation{}, catalog.ErrNotFound
	}
	return r, nil
}
func (f *fakeCatalog) GetAccount(ctx context.Context, service string, accountID int64) (map[string]string, error) {
	row, ok := f.accounts[accountKey(service, accountID)]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return row, nil
}
func (f *fakeCatalog) InsertReservation(ctx context.Context, r catalog.Reservation) error { return nil }
func (f *fakeCatalog) DeleteReservation(ctx context.Context, uuid string) error {
	f.deleted = append(f.deleted, uuid)
	return nil
}

func accountKey(service string, accountID int64) string {
	return service + ":" + hex.EncodeToString([]byte{byte(accountID)})
}

func uuidHex(n byte) string {
	b := make([]byte, 16)
	b[0] = n
	return hex.EncodeToString(b)
}

func uuidBody(n byte) []byte {
	b := make([]byte, 16)
	b[0] = n
	return b
}

type fakeDelivery struct {
	body   []byte
	acked  bool
	nacked bool
}

func newDelivery(body []byte) (broker.Delivery, *fakeDelivery) {
	fd := &fakeDelivery{body: body}
	return broker.Delivery{
		Body: body,
		Ack:  func() error { fd.acked = true; return nil },
		Nack: func(requeue bool) error { fd.nacked = true; return nil },
	}, fd
}

func newTestPool(t *testing.T, store catalog.Store, accountKV cache.Store, reg *plugin.Registry, resultBlob blob.Store, mapping ArgMapping) *Pool {
	t.Helper()
	inv := invoker.New(reg, invoker.WithResultStore(resultBlob))
	return New(DefaultConfig(), nil, accountKV, store, reg, inv, resultBlob, mapping, nil)
}

func TestHandleCacheHitDispatches(t *testing.T) {
	var seenArgs map[string]string
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name:         "svc/echo",
		RequiredArgs: []string{"token"},
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			seenArgs = args
			return "ok", nil
		},
	}))

	kv := cache.NewMemStore()
	uuid := uuidHex(1)
	require.NoError(t, kv.Set(context.Background(), uuid, cache.Account{
		FunctionName: "svc/echo",
		UUID:         uuid,
		Account:      map[string]string{"token": "abc"},
	}, cache.DefaultTTL))

	p := newTestPool(t, &fakeCatalog{}, kv, reg, blob.NewMemStore(), nil)
	delivery, fd := newDelivery(uuidBody(1))
	p.handle(context.Background(), delivery)

	assert.True(t, fd.acked)
	assert.Equal(t, "abc", seenArgs["token"])
	assert.Equal(t, 1, p.Status().Completed)
}

func TestHandleCatalogFallbackWritesBackCache(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name: "svc/echo",
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return nil, nil
		},
	}))

	uuid := uuidHex(2)
	cat := &fakeCatalog{
		reservations: map[string]catalog.Reservation{
			uuid: {UUID: uuid, Type: "svc/echo", AccountID: 7},
		},
		accounts: map[string]map[string]string{
			accountKey("svc", 7): {"field": "value"},
		},
	}
	kv := cache.NewMemStore()
	p := newTestPool(t, cat, kv, reg, blob.NewMemStore(), nil)

	delivery, fd := newDelivery(uuidBody(2))
	p.handle(context.Background(), delivery)

	assert.True(t, fd.acked)
	cached, err := kv.Get(context.Background(), uuid)
	require.NoError(t, err)
	assert.Equal(t, "svc/echo", cached.FunctionName)
}

func TestHandleMissingRequiredArgDropsWithoutInvoking(t *testing.T) {
	called := false
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name:         "svc/echo",
		RequiredArgs: []string{"token"},
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			called = true
			return nil, nil
		},
	}))

	uuid := uuidHex(3)
	kv := cache.NewMemStore()
	require.NoError(t, kv.Set(context.Background(), uuid, cache.Account{
		FunctionName: "svc/echo",
		UUID:         uuid,
		Account:      map[string]string{}, // missing "token"
	}, cache.DefaultTTL))

	p := newTestPool(t, &fakeCatalog{}, kv, reg, blob.NewMemStore(), nil)
	delivery, fd := newDelivery(uuidBody(3))
	p.handle(context.Background(), delivery)

	assert.True(t, fd.acked)
	assert.False(t, called)
}

func TestHandleUnknownFunctionDrops(t *testing.T) {
	reg := plugin.NewRegistry()
	uuid := uuidHex(4)
	cat := &fakeCatalog{
		reservations: map[string]catalog.Reservation{
			uuid: {UUID: uuid, Type: "svc/nope", AccountID: 1},
		},
	}
	p := newTestPool(t, cat, cache.NewMemStore(), reg, blob.NewMemStore(), nil)
	delivery, fd := newDelivery(uuidBody(4))
	p.handle(context.Background(), delivery)
	assert.True(t, fd.acked)
}

func TestHandleDeleteReservationCleansUp(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name: "svc/echo",
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return nil, invoker.ErrDeleteReservation
		},
	}))

	uuid := uuidHex(5)
	kv := cache.NewMemStore()
	require.NoError(t, kv.Set(context.Background(), uuid, cache.Account{FunctionName: "svc/echo", UUID: uuid}, cache.DefaultTTL))

	resultStore := blob.NewMemStore()
	require.NoError(t, resultStore.Put(context.Background(), uuid, []byte("stale"), nil))

	cat := &fakeCatalog{}
	p := newTestPool(t, cat, kv, reg, resultStore, nil)

	delivery, fd := newDelivery(uuidBody(5))
	p.handle(context.Background(), delivery)

	assert.True(t, fd.acked)
	assert.Contains(t, cat.deleted, uuid)
	_, err := resultStore.Get(context.Background(), uuid)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestBuildArgsAppliesServiceMapping(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Registration{
		Name:         "svc/echo",
		RequiredArgs: []string{"api_key"},
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return nil, nil
		},
	}))
	p := newTestPool(t, &fakeCatalog{}, cache.NewMemStore(), reg, blob.NewMemStore(), ArgMapping{
		"svc": {"apikey_column": "api_key"},
	})

	args, ok := p.buildArgs(job{
		FunctionName: "svc/echo",
		Account:      map[string]string{"apikey_column": "secret"},
	})
	require.True(t, ok)
	assert.Equal(t, "secret", args["api_key"])
}

func TestDecodeUUIDRejectsWrongLength(t *testing.T) {
	_, err := decodeUUID([]byte{1, 2, 3})
	assert.Error(t, err)
}
