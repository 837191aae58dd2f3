// Package runtime assembles the collaborators spec §9 says must be wired
// explicitly rather than reached through package-level globals: the worker
// pool, the plugin registry, the virtual-host table, and the dispatcher that
// composes them into one gin.HandlerFunc.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wharfd/wharfd/internal/config"
	"github.com/wharfd/wharfd/internal/dispatch"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/plugins"
	"github.com/wharfd/wharfd/internal/policy"
	"github.com/wharfd/wharfd/internal/pool"
	"github.com/wharfd/wharfd/internal/vhost"
	"github.com/wharfd/wharfd/internal/workerapps"
	"github.com/wharfd/wharfd/internal/workerproc"
)

const corePluginName = "core"

// sweepInterval and shutdownGrace govern the pool's background evictor and
// the time Pool.Shutdown gives in-flight requests to drain before every
// handle's transport is forcibly closed.
const (
	sweepInterval = 30 * time.Second
	shutdownGrace = 10 * time.Second
)

// Runtime is the fully wired process: pool, registry, vhost table, and the
// dispatcher that sits behind the HTTP entry guards. Built once in main and
// threaded explicitly, never reached through a global.
type Runtime struct {
	Config     *config.RuntimeConfig
	Pool       *pool.Pool
	VHosts     *vhost.Table
	Apps       *workerapps.Resolver
	Registry   *plugins.Registry
	PolicyPAP  *policy.Store
	Dispatcher *dispatch.Dispatcher
}

// Build constructs every collaborator and runs Registry.Init, which in turn
// runs every plugin's OnInit hook (including the synthetic "core" one that
// publishes the pool/vhost table/app resolver as named services) in
// dependency order.
func Build(ctx context.Context, cfg *config.RuntimeConfig) (*Runtime, error) {
	log := logger.HTTP()

	spawner := workerproc.NewSpawner(filepath.Join(os.TempDir(), "wharfd-sockets"))
	p := pool.New(cfg.PoolSize, spawner, sweepInterval, shutdownGrace)
	apps := workerapps.NewResolver(cfg.WorkerDirs)
	vhosts := vhost.NewTable(nil)

	registry := plugins.NewRegistry()

	core := &plugins.Descriptor{
		Name: corePluginName,
		OnInit: func(c *plugins.Context) (any, error) {
			c.Registry.PublishService("pool", p)
			c.Registry.PublishService("apps", apps)
			c.Registry.PublishService("vhosts", vhosts)
			return nil, nil
		},
	}
	if err := registry.Register(core); err != nil {
		return nil, fmt.Errorf("runtime: registering core plugin: %w", err)
	}

	for _, desc := range plugins.BuildAll() {
		if err := registry.Register(desc); err != nil {
			return nil, fmt.Errorf("runtime: registering plugin %q: %w", desc.Name, err)
		}
	}

	if err := registry.Init(ctx); err != nil {
		return nil, fmt.Errorf("runtime: initializing plugin registry: %w", err)
	}
	log.Info().Int("plugins", len(registry.Descriptors())).Msg("plugin registry initialized")

	pap := buildPAP(cfg)

	d := dispatch.New(vhosts, registry, p, apps, cfg.GlobalBodySizeMax)

	return &Runtime{
		Config:     cfg,
		Pool:       p,
		VHosts:     vhosts,
		Apps:       apps,
		Registry:   registry,
		PolicyPAP:  pap,
		Dispatcher: d,
	}, nil
}

// buildPAP constructs the policy store used by admin tooling that wants a
// handle without reaching into the registry's authz service. Each plugin
// that needs live policy evaluation (authz) builds and owns its own store
// independently, per its own manifest config.
func buildPAP(cfg *config.RuntimeConfig) *policy.Store {
	if cfg.PostgresDSN != "" {
		pg, err := policy.OpenPostgresStore(cfg.PostgresDSN)
		if err != nil {
			logger.Policy().Warn().Err(err).Msg("failed to open postgres-backed policy store, falling back to in-memory")
			return policy.NewStore()
		}
		s := policy.NewStore()
		if err := pg.LoadInto(s); err != nil {
			logger.Policy().Warn().Err(err).Msg("failed to load policies from postgres")
		}
		return s
	}
	return policy.NewStore()
}

// Shutdown drains the worker pool, then the plugin registry, per spec §5's
// shutdown ordering: stop accepting new dispatch, let in-flight requests
// finish, then tear down plugins in reverse dependency order.
func (rt *Runtime) Shutdown(ctx context.Context) {
	log := logger.HTTP()
	log.Info().Msg("shutting down worker pool")
	rt.Pool.Shutdown()
	log.Info().Msg("shutting down plugin registry")
	rt.Registry.Shutdown(ctx)
}
