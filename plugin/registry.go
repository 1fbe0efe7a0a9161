package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/mandate/authorization"
	"github.com/xraph/mandate/id"
	"github.com/xraph/mandate/instruction"
)

// DefaultHookTimeout bounds a single plugin hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onAuthorizationGranted []OnAuthorizationGranted
	onAuthorizationCharged []OnAuthorizationCharged
	onChargeRejected       []OnChargeRejected
	onAuthorizationRevoked []OnAuthorizationRevoked
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAuthorizationGranted); ok {
		r.onAuthorizationGranted = append(r.onAuthorizationGranted, v)
	}
	if v, ok := p.(OnAuthorizationCharged); ok {
		r.onAuthorizationCharged = append(r.onAuthorizationCharged, v)
	}
	if v, ok := p.(OnChargeRejected); ok {
		r.onChargeRejected = append(r.onChargeRejected, v)
	}
	if v, ok := p.(OnAuthorizationRevoked); ok {
		r.onAuthorizationRevoked = append(r.onAuthorizationRevoked, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnAuthorizationGranted", reflect.TypeOf((*OnAuthorizationGranted)(nil)).Elem()},
	{"OnAuthorizationCharged", reflect.TypeOf((*OnAuthorizationCharged)(nil)).Elem()},
	{"OnChargeRejected", reflect.TypeOf((*OnChargeRejected)(nil)).Elem()},
	{"OnAuthorizationRevoked", reflect.TypeOf((*OnAuthorizationRevoked)(nil)).Elem()},
}

// implementedInterfaces returns the hook names implemented by the plugin.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			interfaces = append(interfaces, h.name)
		}
	}
	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, m any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnInit", p.Name(), func() error {
			return p.OnInit(ctx, m)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnShutdown", p.Name(), func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitAuthorizationGranted emits an authorization granted event.
func (r *Registry) EmitAuthorizationGranted(ctx context.Context, auth *authorization.Authorization) {
	r.mu.RLock()
	plugins := r.onAuthorizationGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		snapshot := auth.Clone()
		r.dispatch(ctx, "OnAuthorizationGranted", p.Name(), func() error {
			return p.OnAuthorizationGranted(ctx, snapshot)
		})
	}
}

// EmitAuthorizationCharged emits an authorization charged event.
func (r *Registry) EmitAuthorizationCharged(ctx context.Context, auth *authorization.Authorization, amount uint64, chargeID id.ChargeID) {
	r.mu.RLock()
	plugins := r.onAuthorizationCharged
	r.mu.RUnlock()

	for _, p := range plugins {
		snapshot := auth.Clone()
		r.dispatch(ctx, "OnAuthorizationCharged", p.Name(), func() error {
			return p.OnAuthorizationCharged(ctx, snapshot, amount, chargeID)
		})
	}
}

// EmitChargeRejected emits a charge rejected event.
func (r *Registry) EmitChargeRejected(ctx context.Context, charge *instruction.Charge, reason error) {
	r.mu.RLock()
	plugins := r.onChargeRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnChargeRejected", p.Name(), func() error {
			return p.OnChargeRejected(ctx, charge, reason)
		})
	}
}

// EmitAuthorizationRevoked emits an authorization revoked event.
func (r *Registry) EmitAuthorizationRevoked(ctx context.Context, auth *authorization.Authorization) {
	r.mu.RLock()
	plugins := r.onAuthorizationRevoked
	r.mu.RUnlock()

	for _, p := range plugins {
		snapshot := auth.Clone()
		r.dispatch(ctx, "OnAuthorizationRevoked", p.Name(), func() error {
			return p.OnAuthorizationRevoked(ctx, snapshot)
		})
	}
}

func (r *Registry) dispatch(ctx context.Context, hook, pluginName string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the payment pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
