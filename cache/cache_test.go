package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreSetGet(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	acc := Account{FunctionName: "svc/foo", UUID: "u1", Account: map[string]string{"key": "v"}}
	require.NoError(t, store.Set(ctx, "u1", acc, time.Hour))

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, acc, got)
}

func TestMemStoreMiss(t *testing.T) {
	store := NewMemStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemStoreExpiry(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "u1", Account{UUID: "u1"}, -time.Second))

	_, err := store.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	acc := Account{FunctionName: "svc/foo", UUID: "u1", Account: map[string]string{"a": "b"}}
	b, err := marshalAccount(acc)
	require.NoError(t, err)

	got, err := unmarshalAccount(b)
	require.NoError(t, err)
	assert.Equal(t, acc, got)
}
