package manifest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/logging"
	"github.com/lyzr/flowengine/plugin"
	"github.com/lyzr/flowengine/registry"
	"github.com/lyzr/flowengine/types"
)

// Loader scans a plugin directory tree, spawns one plugin.Pool per
// plugin, registers every declared module into the shared registry, and
// watches the tree for changes so an operator reload bumps
// ModuleCatalogVersion per §4.9 without restarting the engine process.
type Loader struct {
	root string
	reg  *registry.Registry
	log  logging.Logger

	poolConfig   plugin.PoolConfig
	shutdownGrace time.Duration

	mu          sync.RWMutex
	pools       map[string]*plugin.Pool
	manifests   map[string]*Manifest
	moduleOwner map[string]string

	catalogVersion uint64

	watcher *fsnotify.Watcher
}

// Option configures a Loader at construction time.
type Option func(*Loader)

// WithPoolConfig overrides the default pool sizing/backoff every spawned
// plugin.Pool is constructed with.
func WithPoolConfig(cfg plugin.PoolConfig) Option {
	return func(l *Loader) { l.poolConfig = cfg }
}

// WithShutdownGrace overrides the grace period given to old plugin
// instances during a reload's drain step.
func WithShutdownGrace(d time.Duration) Option {
	return func(l *Loader) { l.shutdownGrace = d }
}

// NewLoader constructs a Loader rooted at dir, registering modules into reg.
func NewLoader(dir string, reg *registry.Registry, log logging.Logger, opts ...Option) *Loader {
	if log == nil {
		log = logging.New("info", "text")
	}
	l := &Loader{
		root:          dir,
		reg:           reg,
		log:           log,
		shutdownGrace: 5 * time.Second,
		pools:         map[string]*plugin.Pool{},
		manifests:     map[string]*Manifest{},
		moduleOwner:   map[string]string{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CatalogVersion returns the monotonically increasing counter bumped on
// every successful (re)load.
func (l *Loader) CatalogVersion() uint64 {
	return atomic.LoadUint64(&l.catalogVersion)
}

// LoadAll performs the initial scan and registration. Call once at
// startup before any execution begins.
func (l *Loader) LoadAll(ctx context.Context) error {
	manifests, err := Scan(l.root)
	if err != nil {
		return err
	}
	return l.apply(ctx, manifests)
}

// apply registers every manifest's modules and starts its pool, replacing
// whatever was previously registered for the same plugin name.
func (l *Loader) apply(ctx context.Context, manifests []*Manifest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	newPools := map[string]*plugin.Pool{}
	newManifests := map[string]*Manifest{}
	newOwner := map[string]string{}

	for _, m := range manifests {
		spawn := l.spawner(m)
		pool := plugin.NewPool(m.Name, spawn, l.poolConfig, l.log)
		newPools[m.Name] = pool
		newManifests[m.Name] = m

		for _, mod := range m.Modules {
			meta := m.toModuleMetadata(mod)
			if err := l.reg.Register(meta, pluginHandler{}); err != nil {
				return fmt.Errorf("manifest: failed to register module %s from plugin %s: %w", mod.ID, m.Name, err)
			}
			newOwner[mod.ID] = m.Name
		}
	}

	oldPools := l.pools
	l.pools = newPools
	l.manifests = newManifests
	l.moduleOwner = newOwner
	atomic.AddUint64(&l.catalogVersion, 1)

	for name, pool := range oldPools {
		if _, stillPresent := newPools[name]; stillPresent {
			continue
		}
		pool.Shutdown(ctx, l.shutdownGrace)
	}
	return nil
}

// Reload drains and shuts down every currently running plugin instance,
// rescans the manifest directory, re-registers modules, and bumps
// CatalogVersion. In-flight executions keep dispatching against the
// registry/pool snapshot their Dispatcher captured at execution start
// (see the engine's buildDispatcher), so a reload never disturbs a running execution.
func (l *Loader) Reload(ctx context.Context) error {
	manifests, err := Scan(l.root)
	if err != nil {
		return err
	}
	l.log.Info("manifest: reloading plugin catalog", "plugin_count", len(manifests))
	return l.apply(ctx, manifests)
}

// Watch starts an fsnotify watch over the plugin directory tree and calls
// Reload whenever a plugin.yaml is created, written, or removed. It blocks
// until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(errs.InternalError, "manifest: failed to start directory watcher", err)
	}
	l.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(l.root); err != nil {
		return errs.Wrap(errs.InternalError, fmt.Sprintf("manifest: failed to watch %s", l.root), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, manifestFileName) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := l.Reload(ctx); err != nil {
				l.log.Error("manifest: reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("manifest: watcher error", "error", err)
		}
	}
}

// spawner builds the plugin.Spawner the pool uses to start new instances
// of one manifest's runtime entry, isolated to its own working directory.
func (l *Loader) spawner(m *Manifest) plugin.Spawner {
	entry := m.Runtime.Entry
	dir := m.Dir
	name := m.Name
	log := l.log
	return func() *plugin.Process {
		return plugin.NewProcessInDir(name, entry, nil, dir, nil, log)
	}
}

// Snapshot returns the registered-module-owner map and pool set as of the
// call, for engine.New to capture once per execution per §4.9's
// old-registry-snapshot guarantee.
func (l *Loader) Snapshot() (map[string]string, map[string]*plugin.Pool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	owner := make(map[string]string, len(l.moduleOwner))
	for k, v := range l.moduleOwner {
		owner[k] = v
	}
	pools := make(map[string]*plugin.Pool, len(l.pools))
	for k, v := range l.pools {
		pools[k] = v
	}
	return owner, pools
}

// Close shuts down every plugin pool, used on engine shutdown.
func (l *Loader) Close(ctx context.Context) {
	l.mu.RLock()
	pools := make([]*plugin.Pool, 0, len(l.pools))
	for _, p := range l.pools {
		pools = append(pools, p)
	}
	l.mu.RUnlock()

	for _, p := range pools {
		p.Shutdown(ctx, l.shutdownGrace)
	}
}

// pluginHandler is a registry.Handler placeholder for plugin-hosted
// modules: the registry requires every entry to carry a Handler, but
// plugin dispatch is actually routed through invoker.Dispatcher's
// pool-owner map, never through Handler.Invoke. Calling it directly is a
// wiring bug.
type pluginHandler struct{}

func (pluginHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	panic("manifest: plugin-hosted module invoked through registry.Handler directly; route through invoker.Dispatcher instead")
}
