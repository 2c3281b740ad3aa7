// Package invoker implements the single synchronous choke point shared by
// the Interface's first-fire and the Worker's async dispatch, spec.md
// §4.6/§9. It injects a registration's flagged capabilities (UUID and
// fast-cache pseudo-arguments, a context-scoped Page Getter, and a
// write-back handle for the fast-cache blob), wraps the plugin's return
// value in a tagged result, and persists non-nil results to the blob store.
package invoker

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"

	"github.com/fenwicklabs/reservoir/blob"
	"github.com/fenwicklabs/reservoir/cache"
	"github.com/fenwicklabs/reservoir/errors"
	"github.com/fenwicklabs/reservoir/logger"
	"github.com/fenwicklabs/reservoir/pagegetter"
	"github.com/fenwicklabs/reservoir/plugin"
)

// ErrDeleteReservation is the distinguished "delete this reservation"
// signal a plugin can return (spec.md §4.4, §7's DeleteReservationException,
// redesigned per §9 as a sentinel rather than an exception).
var ErrDeleteReservation = errors.New("invoker: delete reservation")

// Kind tags a Result the way spec.md §9 asks for ("Ok | Delete | Error").
type Kind int

const (
	Ok Kind = iota
	Delete
	Failed
)

// Result is the invoker's tagged outcome.
type Result struct {
	Kind  Kind
	Value interface{}
	Err   error
}

// Invoker is the Base shared plugin invocation choke point.
type Invoker struct {
	registry    *plugin.Registry
	resultStore blob.Store             // nil disables result persistence
	fastCache   cache.Store            // nil disables fast-cache plumbing
	pageGetter  *pagegetter.PageGetter // nil disables getPage plumbing
	log         func(string, ...interface{})
}

// Option configures an Invoker at construction.
type Option func(*Invoker)

// WithResultStore enables result persistence to the given blob store
// (spec.md §6 "Blob store (result bucket)").
func WithResultStore(store blob.Store) Option {
	return func(i *Invoker) { i.resultStore = store }
}

// WithFastCache wires the fast-cache plumbing a plugin opts into via
// plugin.Flags.WantsFastCache (original_source/awspider/resources2/exposed.py;
// see SPEC_FULL.md's supplemental feature).
func WithFastCache(store cache.Store) Option {
	return func(i *Invoker) { i.fastCache = store }
}

// WithPageGetter enables self.getPage-style plumbing for plugins that
// declare plugin.Flags.WantsPageGetter (original_source/awspider/plugin.py).
func WithPageGetter(pg *pagegetter.PageGetter) Option {
	return func(i *Invoker) { i.pageGetter = pg }
}

// New builds an Invoker around a plugin registry.
func New(registry *plugin.Registry, opts ...Option) *Invoker {
	inv := &Invoker{registry: registry}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke resolves function_name in the registry, injects pseudo-arguments
// the registration's flags opt into, runs the callable, and persists the
// result when applicable. uuid is the empty string for one-shot plugins.
func (i *Invoker) Invoke(ctx context.Context, functionName, uuid string, args map[string]string) Result {
	reg, ok := i.registry.Get(functionName)
	if !ok {
		return Result{Kind: Failed, Err: errors.Newf("unknown function_name: %s", functionName)}
	}

	callArgs := make(map[string]string, len(args)+2)
	for k, v := range args {
		callArgs[k] = v
	}
	if reg.Flags.WantsUUID && uuid != "" {
		callArgs[plugin.ArgReservationUUID] = uuid
	}
	var fcBox *FastCacheBox
	if reg.Flags.WantsFastCache && i.fastCache != nil && uuid != "" {
		if acc, err := i.fastCache.Get(ctx, fastCacheKey(uuid)); err == nil {
			if blob, ok := acc.Account["blob"]; ok {
				callArgs[plugin.ArgReservationFastCache] = blob
			}
		}
		fcBox = &FastCacheBox{}
		ctx = context.WithValue(ctx, fastCacheCtxKey{}, fcBox)
	}
	if reg.Flags.WantsPageGetter && i.pageGetter != nil {
		ctx = pagegetter.NewContext(ctx, i.pageGetter)
	}

	value, err := reg.Callable(ctx, callArgs)

	if fcBox != nil {
		if v, ok := fcBox.get(); ok {
			acc := cache.Account{FunctionName: functionName, UUID: uuid, Account: map[string]string{"blob": v}}
			if perr := i.fastCache.Set(ctx, fastCacheKey(uuid), acc, cache.DefaultTTL); perr != nil {
				logger.WorkerErrorw("failed to persist fast-cache blob", "reservation_id", uuid, "error", perr)
			}
		}
	}

	if err != nil {
		if errors.Is(err, ErrDeleteReservation) {
			logger.WorkerInfow("plugin signaled delete reservation", "function_name", functionName, "reservation_id", uuid)
			return Result{Kind: Delete, Err: err}
		}
		logger.WorkerErrorw("plugin execution failed", "function_name", functionName, "reservation_id", uuid, "error", err)
		return Result{Kind: Failed, Err: err}
	}

	if value != nil && i.resultStore != nil && uuid != "" {
		if err := i.persistResult(ctx, uuid, value); err != nil {
			logger.WorkerErrorw("failed to persist plugin result", "reservation_id", uuid, "error", err)
		}
	}

	return Result{Kind: Ok, Value: value}
}

// persistResult gob-encodes value (the Go-idiomatic equivalent of the
// original's pickled native object, spec.md §6) and writes it gzip'd to
// the result bucket under the reservation's uuid.
func (i *Invoker) persistResult(ctx context.Context, uuid string, value interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return errors.Wrapf(err, "gob-encode result for %s", uuid)
	}
	return i.resultStore.Put(ctx, uuid, buf.Bytes(), nil)
}

func fastCacheKey(uuid string) string {
	return "fastcache:" + uuid
}

type fastCacheCtxKey struct{}

// FastCacheBox is the mutable handle a plugin writes its updated
// reservation_fast_cache blob through. callArgs is a map[string]string
// passed by value with no return channel, so the write half of the
// fast-cache contract (spec.md §3, "plugin-written per-reservation blob")
// has to travel back out-of-band via the context instead.
type FastCacheBox struct {
	mu    sync.Mutex
	value string
	set   bool
}

// Set records v as the fast-cache blob to persist once the plugin returns.
func (b *FastCacheBox) Set(v string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value, b.set = v, true
}

func (b *FastCacheBox) get() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.set
}

// FastCacheFromContext returns the box a plugin flagged WantsFastCache can
// write its new fast-cache blob through, if one is present in ctx.
func FastCacheFromContext(ctx context.Context) (*FastCacheBox, bool) {
	box, ok := ctx.Value(fastCacheCtxKey{}).(*FastCacheBox)
	return box, ok
}
