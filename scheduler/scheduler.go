// Package scheduler implements the Scheduler: an in-memory min-heap of
// live reservations that publishes due UUIDs to the broker in FIFO
// batches, rate-limited by observed queue depth, spec.md §4.3.
package scheduler

import (
	"container/heap"
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/fenwicklabs/reservoir/broker"
	"github.com/fenwicklabs/reservoir/catalog"
	"github.com/fenwicklabs/reservoir/errors"
	"github.com/fenwicklabs/reservoir/logger"
	"github.com/fenwicklabs/reservoir/plugin"
)

// Config tunes the Scheduler's runtime loop (spec.md §4.3).
type Config struct {
	TickInterval       time.Duration // "every ~1 s"
	QueueDepthInterval time.Duration // "~60 s refresh"
	HighWater          int           // skip publishing this tick at/above this depth
	MaxPerTick         int           // per-tick publish cap
	StartupChunkSize   int           // catalog stream chunk size
}

// DefaultConfig returns the values spec.md §4.3 names as examples.
func DefaultConfig() Config {
	return Config{
		TickInterval:       time.Second,
		QueueDepthInterval: 60 * time.Second,
		HighWater:          100000,
		MaxPerTick:         1000,
		StartupChunkSize:   10000,
	}
}

// Remap optionally rewrites a function_name at addToHeap time, e.g. to
// swap a legacy plugin name for its replacement (spec.md §4.3 "Service
// remapping").
type Remap map[string]string

// Scheduler owns the in-memory heap; it is the single writer of heap
// state (spec.md §5).
type Scheduler struct {
	cfg      Config
	registry *plugin.Registry
	catalog  catalog.Store
	broker   broker.Broker
	remap    Remap

	mu   sync.Mutex
	heap reservationHeap
}

// New builds a Scheduler. Call Run to seed the heap from the catalog and
// start the publish loop; it blocks until ctx is canceled or startup
// fails.
func New(cfg Config, registry *plugin.Registry, store catalog.Store, b broker.Broker, remap Remap) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.QueueDepthInterval <= 0 {
		cfg.QueueDepthInterval = 60 * time.Second
	}
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = 1000
	}
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		catalog:  store,
		broker:   b,
		remap:    remap,
	}
}

// Run streams the catalog to seed the heap, then runs the publish loop
// until ctx is canceled. A catalog streaming failure aborts startup and
// is returned (spec.md §4.3 "Catalog query failure at startup aborts
// startup").
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.seed(ctx); err != nil {
		return errors.Wrap(err, "scheduler startup")
	}
	return s.loop(ctx)
}

func (s *Scheduler) seed(ctx context.Context) error {
	now := time.Now()
	var skipped int
	err := s.catalog.StreamReservations(ctx, s.cfg.StartupChunkSize, func(r catalog.Reservation) error {
		function := s.applyRemap(r.Type)
		reg, ok := s.registry.Get(function)
		if !ok {
			skipped++
			return nil
		}
		raw, err := decodeUUID(r.UUID)
		if err != nil {
			skipped++
			return nil
		}
		s.insert(raw, function, intervalFor(reg), now)
		return nil
	})
	if err != nil {
		return err
	}
	logger.SchedulerInfow("catalog seed complete", "heap_size", s.heap.Len(), "skipped", skipped)
	return nil
}

func (s *Scheduler) applyRemap(function string) string {
	if s.remap == nil {
		return function
	}
	if replacement, ok := s.remap[function]; ok {
		return replacement
	}
	return function
}

func intervalFor(reg plugin.Registration) time.Duration {
	if reg.IntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(reg.IntervalSeconds) * time.Second
}

func (s *Scheduler) insert(uuid [16]byte, function string, interval time.Duration, now time.Time) {
	s.mu.Lock()
	heap.Push(&s.heap, &entry{
		uuid:     uuid,
		function: function,
		interval: interval,
		nextFire: now.Add(interval),
	})
	s.mu.Unlock()
}

// AddToHeap is the Scheduler's live-addition entry point, backing the
// `GET /function/schedulerserver/remoteaddtoheap` HTTP surface (spec.md
// §4.3). Returns an error if uuid does not decode as 128-bit hex, or if
// function_name is unknown (both logged and otherwise ignored by the
// caller, per spec.md's "rejected silently (logged)").
func (s *Scheduler) AddToHeap(uuid, functionName string) error {
	raw, err := decodeUUID(uuid)
	if err != nil {
		logger.SchedulerWarnw("live add rejected: invalid uuid", "uuid", uuid)
		return errors.Wrapf(err, "decode uuid %s", uuid)
	}
	function := s.applyRemap(functionName)
	reg, ok := s.registry.Get(function)
	if !ok {
		logger.SchedulerWarnw("live add rejected: unknown function_name", "function_name", function)
		return errors.Newf("unknown function_name: %s", function)
	}
	s.insert(raw, function, intervalFor(reg), time.Now())
	return nil
}

// loop runs the runtime publish loop (spec.md §4.3 "Runtime loop").
func (s *Scheduler) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	depthTicker := time.NewTicker(s.cfg.QueueDepthInterval)
	defer depthTicker.Stop()

	depth := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-depthTicker.C:
			d, err := s.broker.QueueDepth(ctx)
			if err != nil {
				logger.SchedulerWarnw("queue depth check failed", "error", err)
				continue
			}
			depth = d
		case <-ticker.C:
			if depth >= s.cfg.HighWater {
				logger.SchedulerWarnw("skipping publish tick: high water", "depth", depth, "high_water", s.cfg.HighWater)
				continue
			}
			if err := s.publishDueTick(ctx); err != nil {
				return errors.Wrap(err, "publish tick")
			}
		}
	}
}

// publishDueTick pops due entries up to the per-tick cap, publishes each,
// and re-inserts with an advanced next_fire. A publish failure re-raises
// (spec.md §4.3 "logs and re-raises") rather than silently dropping
// forward progress.
func (s *Scheduler) publishDueTick(ctx context.Context) error {
	now := time.Now()
	var due []*entry

	s.mu.Lock()
	for i := 0; i < s.cfg.MaxPerTick && s.heap.Len() > 0; i++ {
		if s.heap[0].nextFire.After(now) {
			break
		}
		due = append(due, heap.Pop(&s.heap).(*entry))
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return nil
	}

	for _, e := range due {
		if err := s.broker.Publish(ctx, e.uuid[:]); err != nil {
			logger.SchedulerWarnw("broker publish failed", "function", e.function, "reservation_id", encodeUUID(e.uuid), "error", err)
			return errors.Wrapf(err, "publish uuid for %s", e.function)
		}
	}

	s.mu.Lock()
	for _, e := range due {
		if e.interval <= 0 {
			continue // one-shot: fired once, not re-inserted
		}
		e.nextFire = now.Add(e.interval)
		heap.Push(&s.heap, e)
	}
	s.mu.Unlock()

	logger.SchedulerInfow("published due reservations", "count", len(due))
	return nil
}

// decodeUUID parses a 32-hex-char string into its raw 128-bit form.
func decodeUUID(s string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, errors.Wrapf(err, "invalid uuid %s", s)
	}
	if len(b) != 16 {
		return out, errors.Newf("invalid uuid length for %s: got %d bytes", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// encodeUUID reconstitutes the 32-hex-char string form, used only at
// publish time (spec.md §4.3).
func encodeUUID(b [16]byte) string {
	return hex.EncodeToString(b[:])
}

// HeapLen reports the current heap size, for observability and tests.
func (s *Scheduler) HeapLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}
