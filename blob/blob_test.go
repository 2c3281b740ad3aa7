package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorePutGet(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key1", []byte("hello"), map[string]string{"content-sha1": "abc"}))

	obj, err := store.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), obj.Body)
	assert.Equal(t, "abc", obj.Metadata["content-sha1"])
	assert.Equal(t, "gzip", obj.Metadata[metaContentEncoding])
}

func TestMemStoreGetNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreDelete(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "key1", []byte("hello"), nil))
	require.NoError(t, store.Delete(ctx, "key1"))

	_, err := store.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGzipRoundTrip(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated")
	compressed, meta := gzipBody(body, map[string]string{"x": "y"})
	assert.Equal(t, "gzip", meta[metaContentEncoding])
	assert.NotEqual(t, body, compressed)

	decoded, err := gunzipIfNeeded(compressed, meta)
	require.NoError(t, err)
	assert.Equal(t, body, decoded)
}
