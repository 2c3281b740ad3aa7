// Package worker implements the Worker: consumes reservation UUIDs from
// the broker, resolves each to a concrete plugin invocation, executes
// under a concurrency cap, and acknowledges at-most-once, spec.md §4.4.
package worker

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/fenwicklabs/reservoir/blob"
	"github.com/fenwicklabs/reservoir/broker"
	"github.com/fenwicklabs/reservoir/cache"
	"github.com/fenwicklabs/reservoir/catalog"
	"github.com/fenwicklabs/reservoir/errors"
	"github.com/fenwicklabs/reservoir/invoker"
	"github.com/fenwicklabs/reservoir/logger"
	"github.com/fenwicklabs/reservoir/plugin"
)

// Config tunes the Worker's concurrency and broker prefetch (spec.md
// §4.4).
type Config struct {
	Prefetch         int // default 1,000
	SimultaneousJobs int // default 20
}

// DefaultConfig returns the values spec.md §4.4 names as examples.
func DefaultConfig() Config {
	return Config{Prefetch: 1000, SimultaneousJobs: 20}
}

// ArgMapping rewrites account column names to plugin argument names, per
// service (spec.md §4.4 "service_args_mapping").
type ArgMapping map[string]map[string]string // service -> from -> to

// Remap optionally rewrites a reservation's type before catalog/registry
// lookup, mirroring the Scheduler's remap table (spec.md §4.3/§4.4).
type Remap map[string]string

type job struct {
	FunctionName string
	UUID         string
	Account      map[string]string
}

// Pool is the Worker: a bounded set of goroutines consuming from a broker
// and dispatching through the shared invoker.
type Pool struct {
	cfg        Config
	broker     broker.Broker
	accountKV  cache.Store
	catalog    catalog.Store
	registry   *plugin.Registry
	invoker    *invoker.Invoker
	resultBlob blob.Store // for DeleteReservation cleanup
	argMapping ArgMapping
	remap      Remap

	sem chan struct{} // bounds concurrent plugin executions

	mu        sync.Mutex
	active    map[string]bool // in-flight job set, spec.md §3
	completed int
}

// New builds a Worker pool.
func New(cfg Config, b broker.Broker, accountKV cache.Store, store catalog.Store, registry *plugin.Registry, inv *invoker.Invoker, resultBlob blob.Store, argMapping ArgMapping, remap Remap) *Pool {
	if cfg.SimultaneousJobs <= 0 {
		cfg.SimultaneousJobs = 20
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1000
	}
	return &Pool{
		cfg:        cfg,
		broker:     b,
		accountKV:  accountKV,
		catalog:    store,
		registry:   registry,
		invoker:    inv,
		resultBlob: resultBlob,
		argMapping: argMapping,
		remap:      remap,
		sem:        make(chan struct{}, cfg.SimultaneousJobs),
		active:     make(map[string]bool),
	}
}

// Run consumes deliveries until ctx is canceled. Each delivery is
// acknowledged before dispatch (spec.md §4.4: "at-most-once").
func (p *Pool) Run(ctx context.Context) error {
	deliveries, err := p.broker.Consume(ctx, p.cfg.Prefetch)
	if err != nil {
		return errors.Wrap(err, "worker: consume")
	}

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return nil
			}
			p.sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-p.sem }()
				p.handle(ctx, d)
			}()
		}
	}
}

func (p *Pool) handle(ctx context.Context, d broker.Delivery) {
	uuid, err := decodeUUID(d.Body)
	if err != nil {
		logger.WorkerErrorw("malformed delivery body", "error", err)
		_ = d.Ack()
		return
	}

	if p.markActive(uuid) {
		// Already in flight in this process; tolerate duplicate fires
		// per spec.md §3 rather than blocking the dequeue loop.
		_ = d.Ack()
		return
	}
	defer p.clearActive(uuid)

	j, err := p.resolveJob(ctx, uuid)
	if err != nil {
		logger.WorkerInfow("dropping job: resolution failed", "reservation_id", uuid, "error", err)
		_ = d.Ack()
		return
	}

	args, ok := p.buildArgs(j)
	if !ok {
		logger.WorkerInfow("dropping job: missing required argument", "reservation_id", uuid, "function_name", j.FunctionName)
		_ = d.Ack()
		return
	}

	// Ack before dispatch: at-most-once (spec.md §4.4, §9).
	if err := d.Ack(); err != nil {
		logger.WorkerErrorw("ack failed", "reservation_id", uuid, "error", err)
	}

	result := p.invoker.Invoke(ctx, j.FunctionName, uuid, args)
	switch result.Kind {
	case invoker.Delete:
		p.cleanupDeletedReservation(ctx, uuid)
	case invoker.Failed:
		logger.WorkerErrorw("plugin invocation failed", "reservation_id", uuid, "function_name", j.FunctionName, "error", result.Err)
	}

	p.mu.Lock()
	p.completed++
	p.mu.Unlock()
}

// resolveJob implements spec.md §4.4's getJob: account-cache probe, then
// catalog fallback with write-back.
func (p *Pool) resolveJob(ctx context.Context, uuid string) (job, error) {
	if p.accountKV != nil {
		if acc, err := p.accountKV.Get(ctx, uuid); err == nil {
			return job{FunctionName: acc.FunctionName, UUID: uuid, Account: acc.Account}, nil
		}
	}

	res, err := p.catalog.GetReservation(ctx, uuid)
	if err != nil {
		return job{}, errors.Wrapf(err, "resolve reservation %s", uuid)
	}

	functionName := p.applyRemap(res.Type)
	if _, ok := p.registry.Get(functionName); !ok {
		return job{}, errors.Newf("unknown function_name: %s", functionName)
	}

	account, err := p.catalog.GetAccount(ctx, serviceOf(functionName), res.AccountID)
	if err != nil {
		return job{}, errors.Wrapf(err, "load account for %s", uuid)
	}

	j := job{FunctionName: functionName, UUID: uuid, Account: account}

	if p.accountKV != nil {
		_ = p.accountKV.Set(ctx, uuid, cache.Account{
			FunctionName: functionName,
			UUID:         uuid,
			Account:      account,
		}, cache.DefaultTTL)
	}

	return j, nil
}

func (p *Pool) applyRemap(functionName string) string {
	if p.remap == nil {
		return functionName
	}
	if replacement, ok := p.remap[functionName]; ok {
		return replacement
	}
	return functionName
}

// buildArgs applies the service's args mapping, then copies matching
// required/optional plugin arguments from the account row. Returns false
// if a required argument is missing (spec.md §4.4).
func (p *Pool) buildArgs(j job) (map[string]string, bool) {
	reg, ok := p.registry.Get(j.FunctionName)
	if !ok {
		return nil, false
	}

	mapping := p.argMapping[serviceOf(j.FunctionName)]
	mapped := make(map[string]string, len(j.Account))
	for k, v := range j.Account {
		if to, ok := mapping[k]; ok {
			mapped[to] = v
		} else {
			mapped[k] = v
		}
	}

	args := make(map[string]string)
	for _, name := range reg.RequiredArgs {
		v, ok := mapped[name]
		if !ok {
			return nil, false
		}
		args[name] = v
	}
	for _, name := range reg.OptionalArgs {
		if v, ok := mapped[name]; ok {
			args[name] = v
		}
	}
	return args, true
}

func (p *Pool) cleanupDeletedReservation(ctx context.Context, uuid string) {
	if err := p.catalog.DeleteReservation(ctx, uuid); err != nil {
		logger.WorkerErrorw("failed to delete reservation from catalog", "reservation_id", uuid, "error", err)
	}
	if p.resultBlob != nil {
		if err := p.resultBlob.Delete(ctx, uuid); err != nil {
			logger.WorkerErrorw("failed to delete reservation result blob", "reservation_id", uuid, "error", err)
		}
	}
}

func (p *Pool) markActive(uuid string) (alreadyActive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[uuid] {
		return true
	}
	p.active[uuid] = true
	return false
}

func (p *Pool) clearActive(uuid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, uuid)
}

// Status reports the Worker's informational counters (spec.md §6 "Status
// endpoints"). Queued reflects broker-side backlog, not Pool state, and is
// populated by the caller from broker.Broker.QueueDepth.
type Status struct {
	Completed int
	Active    int
	Queued    int
}

func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Completed: p.completed, Active: len(p.active)}
}

func decodeUUID(body []byte) (string, error) {
	if len(body) != 16 {
		return "", errors.Newf("expected 16-byte uuid body, got %d bytes", len(body))
	}
	return hex.EncodeToString(body), nil
}

func serviceOf(functionName string) string {
	if i := strings.IndexByte(functionName, '/'); i >= 0 {
		return functionName[:i]
	}
	return functionName
}
