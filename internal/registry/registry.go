// Package registry wires BananaPuck modules together: it orders them by
// declared dependency, runs their lifecycle, and answers name and role
// lookups for modules that need each other at runtime.
package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/HerbHall/bananapuck/pkg/plugin"
	"go.uber.org/zap"
)

// entry is one registered module and its lifecycle state.
type entry struct {
	p        plugin.Plugin
	info     plugin.PluginInfo
	disabled bool
}

// Registry holds the registered modules. Lifecycle methods run without the
// lock so a module may resolve its peers from Init or Start.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	added   []string // registration order
	order   []string // start order, set by Validate
	logger  *zap.Logger
}

// New returns an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds p. Names must be unique and non-empty.
func (r *Registry) Register(p plugin.Plugin) error {
	info := p.Info()
	if info.Name == "" {
		return fmt.Errorf("plugin has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[info.Name]; dup {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}
	r.entries[info.Name] = &entry{p: p, info: info}
	r.added = append(r.added, info.Name)

	r.logger.Info("plugin registered",
		zap.String("name", info.Name),
		zap.String("version", info.Version),
		zap.Strings("roles", info.Roles),
	)
	return nil
}

// Validate disables modules whose API version or dependencies cannot be
// met, then fixes the start order. Any failure of a Required module is
// returned as an error.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.added {
		e := r.entries[name]
		if err := r.checkAPIVersion(e.info); err != nil {
			if err := r.disableLocked(e, err); err != nil {
				return err
			}
		}
	}

	// Repeat until stable so a disabled module takes its dependents with it.
	for changed := true; changed; {
		changed = false
		for _, name := range r.added {
			e := r.entries[name]
			if e.disabled {
				continue
			}
			if err := r.unmetDependency(e.info); err != nil {
				if err := r.disableLocked(e, err); err != nil {
					return err
				}
				changed = true
			}
		}
	}

	order, err := r.startOrder()
	if err != nil {
		return err
	}
	r.order = order

	r.logger.Info("plugin dependency resolution complete",
		zap.Strings("start_order", order),
		zap.Int("disabled", len(r.added)-len(order)),
	)
	return nil
}

// unmetDependency reports the first dependency that is missing or disabled.
// Must be called with r.mu held.
func (r *Registry) unmetDependency(info plugin.PluginInfo) error {
	for _, dep := range info.Dependencies {
		d, ok := r.entries[dep]
		switch {
		case !ok:
			return fmt.Errorf("plugin %q depends on %q which is not registered", info.Name, dep)
		case d.disabled:
			return fmt.Errorf("plugin %q depends on %q which is disabled", info.Name, dep)
		}
	}
	return nil
}

// disableLocked marks e disabled, or returns cause when e is required.
// Must be called with r.mu held.
func (r *Registry) disableLocked(e *entry, cause error) error {
	if e.info.Required {
		return cause
	}
	r.logger.Warn("disabling plugin", zap.String("name", e.info.Name), zap.Error(cause))
	e.disabled = true
	return nil
}

// checkAPIVersion rejects modules built for an API this server does not
// speak.
func (r *Registry) checkAPIVersion(info plugin.PluginInfo) error {
	switch v := info.APIVersion; {
	case v < plugin.APIVersionMin:
		return fmt.Errorf("plugin %q targets Plugin API v%d, minimum supported is v%d",
			info.Name, v, plugin.APIVersionMin)
	case v > plugin.APIVersionCurrent:
		return fmt.Errorf("plugin %q targets Plugin API v%d, newest supported is v%d",
			info.Name, v, plugin.APIVersionCurrent)
	case v < plugin.APIVersionCurrent:
		r.logger.Warn("plugin targets an older Plugin API",
			zap.String("name", info.Name),
			zap.Int("api_version", v),
			zap.Int("current", plugin.APIVersionCurrent),
		)
	}
	return nil
}

// startOrder sorts active modules so each follows its dependencies. Ties
// keep registration order. Must be called with r.mu held.
func (r *Registry) startOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.entries))
	order := make([]string, 0, len(r.entries))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle detected among plugins: %v", append(path, name))
		}
		state[name] = visiting
		for _, dep := range r.entries[name].info.Dependencies {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range r.added {
		if r.entries[name].disabled {
			continue
		}
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// InitAll runs Init in start order, then ValidateConfig for modules that
// implement plugin.Validator. An optional module that fails is disabled.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	for _, e := range r.active() {
		name := e.info.Name
		r.logger.Info("initializing plugin", zap.String("name", name))

		deps := depsFn(name)
		err := safeCall(name, "Init", func() error { return e.p.Init(ctx, deps) })
		if err == nil {
			if v, ok := e.p.(plugin.Validator); ok {
				if verr := v.ValidateConfig(); verr != nil {
					err = fmt.Errorf("config validation: %w", verr)
				}
			}
		}
		if err != nil {
			if err := r.fail(e, "initialize", err); err != nil {
				return err
			}
		}
	}
	return nil
}

// StartAll runs Start in start order.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, e := range r.active() {
		r.logger.Info("starting plugin", zap.String("name", e.info.Name))
		if err := safeCall(e.info.Name, "Start", func() error { return e.p.Start(ctx) }); err != nil {
			if err := r.fail(e, "start", err); err != nil {
				return err
			}
		}
	}
	return nil
}

// StopAll runs Stop in reverse start order. Errors and panics are logged
// and do not keep the remaining modules from stopping.
func (r *Registry) StopAll(ctx context.Context) {
	active := r.active()
	for i := len(active) - 1; i >= 0; i-- {
		e := active[i]
		r.logger.Info("stopping plugin", zap.String("name", e.info.Name))
		if err := safeCall(e.info.Name, "Stop", func() error { return e.p.Stop(ctx) }); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", e.info.Name), zap.Error(err))
		}
	}
}

// fail disables an optional module after a lifecycle error, or wraps the
// error for a required one.
func (r *Registry) fail(e *entry, stage string, err error) error {
	if e.info.Required {
		return fmt.Errorf("required plugin %q failed to %s: %w", e.info.Name, stage, err)
	}
	r.logger.Error("optional plugin failed, disabling",
		zap.String("name", e.info.Name),
		zap.String("stage", stage),
		zap.Error(err),
	)
	r.mu.Lock()
	e.disabled = true
	r.mu.Unlock()
	return nil
}

// active returns the enabled entries in start order.
func (r *Registry) active() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; !e.disabled {
			out = append(out, e)
		}
	}
	return out
}

// safeCall turns a panic in a lifecycle method into an error.
func safeCall(name, stage string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %q panicked during %s: %v", name, stage, rec)
		}
	}()
	return fn()
}

// All returns the enabled modules in start order.
func (r *Registry) All() []plugin.Plugin {
	active := r.active()
	out := make([]plugin.Plugin, len(active))
	for i, e := range active {
		out[i] = e.p
	}
	return out
}

// AllRoutes collects routes from enabled modules implementing
// plugin.HTTPProvider, keyed by module name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	routes := make(map[string][]plugin.Route)
	for _, e := range r.active() {
		hp, ok := e.p.(plugin.HTTPProvider)
		if !ok {
			continue
		}
		if rs := hp.Routes(); len(rs) > 0 {
			routes[e.info.Name] = rs
		}
	}
	return routes
}

// Resolve implements plugin.PluginResolver. Disabled modules are not found.
func (r *Registry) Resolve(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.disabled {
		return nil, false
	}
	return e.p, true
}

// ResolveByRole implements plugin.PluginResolver.
func (r *Registry) ResolveByRole(role string) []plugin.Plugin {
	var out []plugin.Plugin
	for _, e := range r.active() {
		if slices.Contains(e.info.Roles, role) {
			out = append(out, e.p)
		}
	}
	return out
}
