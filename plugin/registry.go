// Package plugin implements the registration contract for reservation
// callables: function_name -> {callable, interval_seconds, required_args,
// optional_args, flags}, spec.md §3 "Plugin registration".
package plugin

import (
	"context"
	"sort"
	"sync"

	"github.com/fenwicklabs/reservoir/errors"
)

// Reserved argument names must never appear in a registration's required
// or optional argument sets (spec.md §3).
var reservedArgNames = map[string]bool{
	"reservation_function_name": true,
	"reservation_created":       true,
	"reservation_next_request":  true,
	"reservation_error":         true,
	"reservation_uuid":          true,
	"reservation_fast_cache":    true,
}

// Two optional pseudo-arguments are recognized and injected by the invoker
// rather than taken from the plugin's registration (spec.md §3, §9).
const (
	ArgReservationUUID      = "reservation_uuid"
	ArgReservationFastCache = "reservation_fast_cache"
)

// Func is a registered plugin callable. args holds the resolved arguments
// (account fields plus any injected pseudo-arguments the flags opt into).
// Result is an invoker.Result-shaped value; the plugin package itself does
// not depend on invoker to avoid an import cycle, so Func returns
// (interface{}, error) and a distinguished error, invoker.ErrDeleteReservation,
// is recognized by invoker via errors.Is.
type Func func(ctx context.Context, args map[string]string) (interface{}, error)

// Flags are capability declarations read by the invoker to decide which
// pseudo-arguments to inject (spec.md §9 "Dynamic argument binding").
type Flags struct {
	WantsUUID      bool
	WantsFastCache bool
	// WantsPageGetter opts into the shared Page Getter being available from
	// the invocation context via pagegetter.FromContext (original_source's
	// plugin.py self.getPage).
	WantsPageGetter bool
}

// Registration is one entry in the registry.
type Registration struct {
	Name            string
	Callable        Func
	IntervalSeconds int // 0 means one-shot
	RequiredArgs    []string
	OptionalArgs    []string
	Flags           Flags
}

// Registry is a thread-safe function_name -> Registration map.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Registration)}
}

// Register adds a new plugin registration. Returns an error if the name is
// already registered or if a reserved argument name appears in
// RequiredArgs/OptionalArgs.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.New("plugin: registration missing name")
	}
	if reg.Callable == nil {
		return errors.Newf("plugin %s: missing callable", reg.Name)
	}
	for _, a := range reg.RequiredArgs {
		if reservedArgNames[a] {
			return errors.Newf("plugin %s: reserved argument name %q in required args", reg.Name, a)
		}
	}
	for _, a := range reg.OptionalArgs {
		if reservedArgNames[a] {
			return errors.Newf("plugin %s: reserved argument name %q in optional args", reg.Name, a)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[reg.Name]; exists {
		return errors.Newf("plugin already registered: %s", reg.Name)
	}
	r.plugins[reg.Name] = reg
	return nil
}

// Get retrieves a registration by function_name.
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[name]
	return reg, ok
}

// List returns all registered function_names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Global registry instance, mirroring the package-level convenience wrapper
// teranos-QNTX/plugin/registry.go exposes over its own default Registry.
var (
	defaultRegistry *Registry
	registryOnce    sync.Once
	registryMu      sync.RWMutex
)

func defaultRegistryInstance() *Registry {
	registryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// DefaultRegistry returns the process-wide registry that Register/Get/List
// operate on, for callers (cmd/reservoir) that need to hand the concrete
// *Registry to a component constructor.
func DefaultRegistry() *Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return defaultRegistryInstance()
}

// Register registers a plugin with the global default registry.
func Register(reg Registration) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	return defaultRegistryInstance().Register(reg)
}

// Get retrieves a plugin from the global default registry.
func Get(name string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return defaultRegistryInstance().Get(name)
}

// List returns all plugin names from the global default registry.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return defaultRegistryInstance().List()
}
