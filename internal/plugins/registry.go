package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
)

// Registry validates, orders, initializes, and exposes plugins. It is
// immutable after Init, per spec §5's concurrency model.
type Registry struct {
	mu       sync.RWMutex
	pending  map[string]*Descriptor
	order    []string // topological order, set by Init
	services map[string]any
	initDone bool

	shutdownTimeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending:         map[string]*Descriptor{},
		services:        map[string]any{},
		shutdownTimeout: 5 * time.Second,
	}
}

// Register adds a descriptor to the pending set. Valid only before Init.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initDone {
		return fmt.Errorf("plugins: cannot register %q after Init", d.Name)
	}
	if d.Name == "" {
		return fmt.Errorf("plugins: descriptor must have a name")
	}
	if _, exists := r.pending[d.Name]; exists {
		return fmt.Errorf("plugins: plugin %q already registered", d.Name)
	}
	r.pending[d.Name] = d
	return nil
}

// Init validates dependencies and base-path uniqueness, computes the
// topological order, and runs onInit hooks in that order.
//
// The lock is held only for the validation/ordering step, not across the
// OnInit loop: a hook routinely calls back into the registry (GetService,
// PublishService) to fetch or publish a dependency's service, and the
// registry's RWMutex isn't reentrant.
func (r *Registry) Init(ctx context.Context) error {
	r.mu.Lock()
	if r.initDone {
		r.mu.Unlock()
		return fmt.Errorf("plugins: already initialized")
	}
	if err := r.validateDependenciesLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.validateBasePathsLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	order, err := topoSort(r.pending)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.order = order
	r.mu.Unlock()

	log := logger.Plugins()
	for _, name := range order {
		r.mu.RLock()
		d := r.pending[name]
		r.mu.RUnlock()
		if d.OnInit == nil {
			continue
		}
		pctx := &Context{Context: ctx, Registry: r}
		svc, err := d.OnInit(pctx)
		if err != nil {
			return fmt.Errorf("plugins: %q onInit failed: %w", name, err)
		}
		if svc != nil {
			r.mu.Lock()
			r.services[name] = svc
			r.mu.Unlock()
		}
		log.Info().Str("plugin", name).Msg("initialized")
	}

	r.mu.Lock()
	r.initDone = true
	r.mu.Unlock()
	return nil
}

// PublishService registers a named service for later lookup via
// GetService, outside the plugin-name-keyed slot an OnInit return value
// occupies. The synthetic "core" plugin uses this to publish the pool,
// vhost table, and app resolver under their own names rather than one
// bundle keyed by "core".
func (r *Registry) PublishService(name string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
}

func (r *Registry) validateDependenciesLocked() error {
	for name, d := range r.pending {
		for _, dep := range d.Dependencies {
			if _, ok := r.pending[dep]; !ok {
				return fmt.Errorf("plugins: %q requires missing dependency %q", name, dep)
			}
		}
	}
	return nil
}

func (r *Registry) validateBasePathsLocked() error {
	seen := map[string]string{}
	names := make([]string, 0, len(r.pending))
	for name := range r.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := r.pending[name]
		if d.BasePath == "" {
			continue
		}
		if owner, exists := seen[d.BasePath]; exists {
			return fmt.Errorf("plugins: route collision: base path %q claimed by both %q and %q", d.BasePath, owner, name)
		}
		seen[d.BasePath] = name
	}
	return nil
}

// GetService returns a named service published by a plugin's onInit, or nil.
func (r *Registry) GetService(name string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[name]
}

// HookKind selects which hook slice OrderedHooks returns.
type HookKind int

const (
	HookOnRequest HookKind = iota
	HookOnResponse
	HookServerFetch
)

// OrderedHooks returns descriptors that declare the given hook, in
// topological (dispatch) order.
func (r *Registry) OrderedHooks(kind HookKind) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Descriptor
	for _, name := range r.order {
		d := r.pending[name]
		switch kind {
		case HookOnRequest:
			if d.OnRequest != nil {
				out = append(out, d)
			}
		case HookOnResponse:
			if d.OnResponse != nil {
				out = append(out, d)
			}
		case HookServerFetch:
			if d.ServerFetch != nil {
				out = append(out, d)
			}
		}
	}
	return out
}

// RoutedPlugins returns descriptors with a non-empty BasePath and a Routes
// handler, sorted by descending base-path length (longest-prefix-first per
// spec §4.3 step 6).
func (r *Registry) RoutedPlugins() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Descriptor
	for _, name := range r.order {
		d := r.pending[name]
		if d.BasePath != "" && d.Routes != nil {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].BasePath) > len(out[j].BasePath)
	})
	return out
}

// ResolvedApp is the outcome of ResolvePluginApp.
type ResolvedApp struct {
	Dir      string
	BasePath string
}

// ResolvePluginApp matches the longest base-path prefix among app-publishing
// plugins.
func (r *Registry) ResolvePluginApp(path string) *ResolvedApp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Descriptor
	for _, name := range r.order {
		d := r.pending[name]
		if d.ServedAppDir == "" || d.BasePath == "" {
			continue
		}
		if !strings.HasPrefix(path, d.BasePath) {
			continue
		}
		if best == nil || len(d.BasePath) > len(best.BasePath) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	return &ResolvedApp{Dir: best.ServedAppDir, BasePath: best.BasePath}
}

// IsPublicRoute reports whether path is exempt from auth for the named
// plugin and method: array-form patterns apply to every method; keyed-form
// patterns union the ALL bucket with the method-specific bucket.
func (r *Registry) IsPublicRoute(pluginName, path, method string) bool {
	r.mu.RLock()
	d, ok := r.pending[pluginName]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return d.PublicRoutePatterns.Matches(path, method)
}

// Descriptors returns every registered descriptor in topological order, for
// admin/inspection surfaces.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.pending[name])
	}
	return out
}

// Shutdown invokes onShutdown in reverse topological order, each bounded by
// the registry's shutdown timeout.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	log := logger.Plugins()
	for i := len(order) - 1; i >= 0; i-- {
		d := r.pending[order[i]]
		if d.OnShutdown == nil {
			continue
		}
		done := make(chan error, 1)
		pctx := &Context{Context: ctx, Registry: r}
		go func() { done <- d.OnShutdown(pctx) }()
		select {
		case err := <-done:
			if err != nil {
				log.Warn().Str("plugin", d.Name).Err(err).Msg("shutdown hook failed")
			}
		case <-time.After(r.shutdownTimeout):
			log.Warn().Str("plugin", d.Name).Msg("shutdown hook timed out")
		}
	}
}
