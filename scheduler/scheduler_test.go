package scheduler

import (
	"context"
	"encoding/hex"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklabs/reservoir/broker"
	"github.com/fenwicklabs/reservoir/catalog"
	"github.com/fenwicklabs/reservoir/plugin"
)

type fakeCatalog struct {
	reservations []catalog.Reservation
}

func (f *fakeCatalog) StreamReservations(ctx context.Context, chunkSize int, fn func(catalog.Reservation) error) error {
	for _, r := range f.reservations {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeCatalog) GetReservation(ctx context.Context, uuid string) (catalog.Reservation, error) {
	return catalog.Reservation{}, catalog.ErrNotFound
}
func (f *fakeCatalog) GetAccount(ctx context.Context, service string, accountID int64) (map[string]string, error) {
	return nil, catalog.ErrNotFound
}
func (f *fakeCatalog) InsertReservation(ctx context.Context, r catalog.Reservation) error { return nil }
func (f *fakeCatalog) DeleteReservation(ctx context.Context, uuid string) error           { return nil }

type fakeBroker struct {
	mu        sync.Mutex
	published [][]byte
	depth     int
}

func (b *fakeBroker) Publish(ctx context.Context, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	b.published = append(b.published, cp)
	return nil
}
func (b *fakeBroker) Consume(ctx context.Context, prefetch int) (<-chan broker.Delivery, error) {
	return nil, nil
}
func (b *fakeBroker) QueueDepth(ctx context.Context) (int, error) { return b.depth, nil }
func (b *fakeBroker) Close() error                                { return nil }

func hexUUID(n byte) string {
	b := make([]byte, 16)
	b[0] = n
	return hex.EncodeToString(b)
}

func newTestRegistry(t *testing.T, name string, intervalSeconds int) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(plugin.Registration{
		Name:            name,
		IntervalSeconds: intervalSeconds,
		Callable: func(ctx context.Context, args map[string]string) (interface{}, error) {
			return nil, nil
		},
	}))
	return r
}

func TestDecodeEncodeUUIDRoundTrip(t *testing.T) {
	s := hexUUID(7)
	raw, err := decodeUUID(s)
	require.NoError(t, err)
	assert.Equal(t, s, encodeUUID(raw))
}

func TestDecodeUUIDRejectsBadLength(t *testing.T) {
	_, err := decodeUUID("deadbeef")
	assert.Error(t, err)
}

func TestSeedSkipsUnknownFunctionName(t *testing.T) {
	reg := newTestRegistry(t, "svc/known", 60)
	cat := &fakeCatalog{reservations: []catalog.Reservation{
		{UUID: hexUUID(1), Type: "svc/known", AccountID: 1},
		{UUID: hexUUID(2), Type: "svc/unknown", AccountID: 2},
	}}
	sched := New(DefaultConfig(), reg, cat, nil, nil)
	require.NoError(t, sched.seed(context.Background()))
	assert.Equal(t, 1, sched.HeapLen())
}

func TestAddToHeapRejectsUnknownFunction(t *testing.T) {
	reg := plugin.NewRegistry()
	cat := &fakeCatalog{}
	sched := New(DefaultConfig(), reg, cat, nil, nil)
	err := sched.AddToHeap(hexUUID(3), "svc/nope")
	assert.Error(t, err)
	assert.Equal(t, 0, sched.HeapLen())
}

func TestAddToHeapRejectsBadUUID(t *testing.T) {
	reg := newTestRegistry(t, "svc/known", 60)
	sched := New(DefaultConfig(), reg, &fakeCatalog{}, nil, nil)
	err := sched.AddToHeap("not-hex", "svc/known")
	assert.Error(t, err)
}

func TestAddToHeapAppliesRemap(t *testing.T) {
	reg := newTestRegistry(t, "svc/new", 60)
	sched := New(DefaultConfig(), reg, &fakeCatalog{}, nil, Remap{"svc/old": "svc/new"})
	err := sched.AddToHeap(hexUUID(4), "svc/old")
	require.NoError(t, err)
	assert.Equal(t, 1, sched.HeapLen())
}

func TestHeapPopsInNextFireOrder(t *testing.T) {
	reg := newTestRegistry(t, "svc/a", 0)
	sched := New(DefaultConfig(), reg, &fakeCatalog{}, nil, nil)
	now := time.Now()
	sched.insert([16]byte{1}, "svc/a", 0, now.Add(2*time.Second))
	sched.insert([16]byte{2}, "svc/a", 0, now.Add(1*time.Second))
	sched.insert([16]byte{3}, "svc/a", 0, now)

	require.Equal(t, 3, sched.HeapLen())
	var first *entry
	sched.mu.Lock()
	first = sched.heap[0]
	sched.mu.Unlock()
	assert.Equal(t, [16]byte{3}, first.uuid)
}

func TestPublishDueTickRepublishesRecurring(t *testing.T) {
	reg := newTestRegistry(t, "svc/a", 60)
	b := &fakeBroker{}
	sched := New(DefaultConfig(), reg, &fakeCatalog{}, b, nil)
	// insert sets nextFire = now + interval, so this entry fell due a second ago.
	sched.insert([16]byte{5}, "svc/a", 60*time.Second, time.Now().Add(-61*time.Second))

	require.NoError(t, sched.publishDueTick(context.Background()))

	b.mu.Lock()
	published := len(b.published)
	b.mu.Unlock()
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, sched.HeapLen(), "recurring entry is re-inserted with an advanced next_fire")
}

func TestPublishDueTickDropsOneShot(t *testing.T) {
	reg := newTestRegistry(t, "svc/a", 0)
	b := &fakeBroker{}
	sched := New(DefaultConfig(), reg, &fakeCatalog{}, b, nil)
	sched.insert([16]byte{6}, "svc/a", 0, time.Now().Add(-time.Second))

	require.NoError(t, sched.publishDueTick(context.Background()))
	assert.Equal(t, 0, sched.HeapLen(), "one-shot entries are not re-inserted")
}

func TestRemoteAddToHeapHTTPHandler(t *testing.T) {
	reg := newTestRegistry(t, "svc/known", 60)
	sched := New(DefaultConfig(), reg, &fakeCatalog{}, nil, nil)
	srv := NewServer(sched)
	req := httptest.NewRequest("GET", "/function/schedulerserver/remoteaddtoheap?uuid="+hexUUID(9)+"&type=svc/known", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, 1, sched.HeapLen())
}
