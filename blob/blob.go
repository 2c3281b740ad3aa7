// Package blob provides object storage abstractions used by the Page
// Getter's cache bucket and the Worker's result bucket.
package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sync"

	"github.com/fenwicklabs/reservoir/errors"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob: not found")

// Object is a stored value plus the custom metadata headers carried
// alongside it (the Page Getter's side-channel headers, spec.md §3).
type Object struct {
	Body     []byte
	Metadata map[string]string
}

// Store is the object storage contract. Values are gzip-compressed on
// write; Get transparently decompresses when Content-Encoding: gzip is
// recorded in metadata.
type Store interface {
	Get(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, body []byte, metadata map[string]string) error
	Delete(ctx context.Context, key string) error
}

const metaContentEncoding = "Content-Encoding"

// gzipBody compresses body and stamps metadata with Content-Encoding: gzip.
func gzipBody(body []byte, metadata map[string]string) ([]byte, map[string]string) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write(body)
	_ = gw.Close()

	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[metaContentEncoding] = "gzip"
	return buf.Bytes(), out
}

// gunzipIfNeeded decompresses body when metadata marks it gzip-encoded.
func gunzipIfNeeded(body []byte, metadata map[string]string) ([]byte, error) {
	if metadata[metaContentEncoding] != "gzip" {
		return body, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "open gzip reader")
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, errors.Wrap(err, "read gzip body")
	}
	return out, nil
}

// MemStore is an in-memory Store, used in tests and for local development
// without a real S3 bucket.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]Object)}
}

func (m *MemStore) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	body, err := gunzipIfNeeded(obj.Body, obj.Metadata)
	if err != nil {
		return Object{}, err
	}
	return Object{Body: body, Metadata: obj.Metadata}, nil
}

func (m *MemStore) Put(_ context.Context, key string, body []byte, metadata map[string]string) error {
	compressed, meta := gzipBody(body, metadata)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Body: compressed, Metadata: meta}
	return nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
