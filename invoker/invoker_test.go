package invoker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklabs/reservoir/blob"
	"github.com/fenwicklabs/reservoir/cache"
	"github.com/fenwicklabs/reservoir/pagegetter"
	"github.com/fenwicklabs/reservoir/plugin"
	"github.com/fenwicklabs/reservoir/rq"
)

func registryWith(t *testing.T, reg plugin.Registration) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(reg))
	return r
}

func TestInvokeUnknownFunction(t *testing.T) {
	inv := New(plugin.NewRegistry())
	result := inv.Invoke(context.Background(), "svc/nope", "u1", nil)
	assert.Equal(t, Failed, result.Kind)
}

func TestInvokeSuccessPersistsResult(t *testing.T) {
	store := blob.NewMemStore()
	r := registryWith(t, plugin.Registration{
		Name: "svc/foo",
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return "result-value", nil
		},
	})
	inv := New(r, WithResultStore(store))

	result := inv.Invoke(context.Background(), "svc/foo", "u1", nil)
	assert.Equal(t, Ok, result.Kind)
	assert.Equal(t, "result-value", result.Value)

	obj, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, obj.Body)
}

func TestInvokeNilResultSkipsPersistence(t *testing.T) {
	store := blob.NewMemStore()
	r := registryWith(t, plugin.Registration{
		Name: "svc/foo",
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return nil, nil
		},
	})
	inv := New(r, WithResultStore(store))

	result := inv.Invoke(context.Background(), "svc/foo", "u1", nil)
	assert.Equal(t, Ok, result.Kind)

	_, err := store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestInvokeDeleteReservationSignal(t *testing.T) {
	r := registryWith(t, plugin.Registration{
		Name: "svc/foo",
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return nil, ErrDeleteReservation
		},
	})
	inv := New(r)

	result := inv.Invoke(context.Background(), "svc/foo", "u1", nil)
	assert.Equal(t, Delete, result.Kind)
}

func TestInvokeInjectsUUIDWhenFlagged(t *testing.T) {
	var seenUUID string
	r := registryWith(t, plugin.Registration{
		Name:  "svc/foo",
		Flags: plugin.Flags{WantsUUID: true},
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			seenUUID = args[plugin.ArgReservationUUID]
			return nil, nil
		},
	})
	inv := New(r)

	inv.Invoke(context.Background(), "svc/foo", "abc123", nil)
	assert.Equal(t, "abc123", seenUUID)
}

func TestInvokeOmitsUUIDWhenNotFlagged(t *testing.T) {
	var seenArgs map[string]string
	r := registryWith(t, plugin.Registration{
		Name: "svc/foo",
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			seenArgs = args
			return nil, nil
		},
	})
	inv := New(r)

	inv.Invoke(context.Background(), "svc/foo", "abc123", nil)
	_, present := seenArgs[plugin.ArgReservationUUID]
	assert.False(t, present)
}

func TestInvokeReadsAndPersistsFastCache(t *testing.T) {
	store := cache.NewMemStore()
	require.NoError(t, store.Set(context.Background(), "fastcache:u1", cache.Account{Account: map[string]string{"blob": "old-value"}}, cache.DefaultTTL))

	var seenOld string
	r := registryWith(t, plugin.Registration{
		Name:  "svc/foo",
		Flags: plugin.Flags{WantsFastCache: true},
		Callable: func(ctx context.Context, args map[string]string) (interface{}, error) {
			seenOld = args[plugin.ArgReservationFastCache]
			box, ok := FastCacheFromContext(ctx)
			require.True(t, ok)
			box.Set("new-value")
			return nil, nil
		},
	})
	inv := New(r, WithFastCache(store))

	inv.Invoke(context.Background(), "svc/foo", "u1", nil)
	assert.Equal(t, "old-value", seenOld)

	acc, err := store.Get(context.Background(), "fastcache:u1")
	require.NoError(t, err)
	assert.Equal(t, "new-value", acc.Account["blob"])
}

func TestInvokeSkipsFastCacheWriteWhenPluginDoesNotSet(t *testing.T) {
	store := cache.NewMemStore()
	r := registryWith(t, plugin.Registration{
		Name:  "svc/foo",
		Flags: plugin.Flags{WantsFastCache: true},
		Callable: func(_ context.Context, args map[string]string) (interface{}, error) {
			return nil, nil
		},
	})
	inv := New(r, WithFastCache(store))

	inv.Invoke(context.Background(), "svc/foo", "u1", nil)

	_, err := store.Get(context.Background(), "fastcache:u1")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestInvokeInjectsPageGetterWhenFlagged(t *testing.T) {
	pg := pagegetter.New(rq.New(context.Background(), rq.DefaultConfig(), nil), blob.NewMemStore())

	var sawPageGetter bool
	r := registryWith(t, plugin.Registration{
		Name:  "svc/foo",
		Flags: plugin.Flags{WantsPageGetter: true},
		Callable: func(ctx context.Context, args map[string]string) (interface{}, error) {
			_, sawPageGetter = pagegetter.FromContext(ctx)
			return nil, nil
		},
	})
	inv := New(r, WithPageGetter(pg))

	inv.Invoke(context.Background(), "svc/foo", "u1", nil)
	assert.True(t, sawPageGetter)
}

func TestInvokeOmitsPageGetterWhenNotFlagged(t *testing.T) {
	pg := pagegetter.New(rq.New(context.Background(), rq.DefaultConfig(), nil), blob.NewMemStore())

	var sawPageGetter bool
	r := registryWith(t, plugin.Registration{
		Name: "svc/foo",
		Callable: func(ctx context.Context, args map[string]string) (interface{}, error) {
			_, sawPageGetter = pagegetter.FromContext(ctx)
			return nil, nil
		},
	})
	inv := New(r, WithPageGetter(pg))

	inv.Invoke(context.Background(), "svc/foo", "u1", nil)
	assert.False(t, sawPageGetter)
}
