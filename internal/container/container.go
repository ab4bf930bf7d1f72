// Package container wires sitedeploy components from a Config.
package container

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/relicta-tech/sitedeploy/internal/activator"
	"github.com/relicta-tech/sitedeploy/internal/audit"
	"github.com/relicta-tech/sitedeploy/internal/config"
	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	"github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/lock"
	"github.com/relicta-tech/sitedeploy/internal/observability"
	"github.com/relicta-tech/sitedeploy/internal/orchestrator"
	"github.com/relicta-tech/sitedeploy/internal/pipeline"
	"github.com/relicta-tech/sitedeploy/internal/vcs"
)

// Closeable represents a component that must be flushed before exit.
type Closeable interface {
	Close() error
}

// Container holds the components shared by every command. Components that
// touch a working copy are built per target.
type Container struct {
	config   *config.Config
	logger   *log.Logger
	resolver *deploy.Resolver
	locks    *lock.Manager
	audit    *audit.Log
	services *activator.Activator
	metrics  *observability.Metrics

	mu         sync.Mutex
	closed     bool
	closeables []Closeable
}

// New creates a Container for cfg.
func New(cfg *config.Config, logger *log.Logger, version string) (*Container, error) {
	if cfg == nil {
		return nil, errors.Config("container.New", "configuration is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Container{
		config:   cfg,
		logger:   logger,
		resolver: NewResolver(cfg),
		locks:    lock.NewManager(cfg.Lock.Path, cfg.Lock.SignaturePath),
		audit:    audit.New(cfg.Audit.Path, logger),
		services: activator.New(cfg.Supervisor.AvailableDir, cfg.Supervisor.EnabledDir,
			activator.WithReloadCommand(cfg.Supervisor.ReloadCommand),
			activator.WithLogger(logger),
		),
		metrics: observability.NewMetrics(version),
	}
	if cfg.Metrics.Textfile != "" {
		c.closeables = append(c.closeables, &textfileWriter{metrics: c.metrics, path: cfg.Metrics.Textfile})
	}
	return c, nil
}

// NewResolver builds the environment resolver from the target sections.
func NewResolver(cfg *config.Config) *deploy.Resolver {
	return deploy.NewResolver(TargetFromConfig(cfg.Targets.Staging), TargetFromConfig(cfg.Targets.Production))
}

// TargetFromConfig converts a target section. The mode is set by the resolver.
func TargetFromConfig(tc config.TargetConfig) deploy.Target {
	return deploy.Target{
		DeployPath:    tc.DeployPath,
		ConfigName:    tc.ConfigName,
		SocketPath:    tc.SocketPath,
		URLPrefix:     tc.URLPrefix,
		ServiceConfig: tc.ServiceConfig,
	}
}

// Config returns the configuration.
func (c *Container) Config() *config.Config { return c.config }

// Target resolves the target for mode.
func (c *Container) Target(mode deploy.Mode) deploy.Target {
	return c.resolver.Resolve(mode)
}

// Locks returns the lock manager.
func (c *Container) Locks() *lock.Manager { return c.locks }

// Audit returns the deployment log.
func (c *Container) Audit() *audit.Log { return c.audit }

// Services returns the process supervisor activator.
func (c *Container) Services() *activator.Activator { return c.services }

// Orchestrator builds the orchestrator for target, opening its working copy.
// opts are applied after the container's own options.
func (c *Container) Orchestrator(target deploy.Target, opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	const op = "container.Orchestrator"

	cfg := c.config
	auth, err := vcs.AuthFromConfig(cfg.Repository.Auth)
	if err != nil {
		return nil, err
	}
	repo, err := vcs.Open(target.DeployPath,
		vcs.WithRemote(cfg.Repository.Remote),
		vcs.WithBranch(cfg.Repository.Branch),
		vcs.WithAuth(auth),
		vcs.WithCLIFallback(cfg.Repository.UseCLI()),
		vcs.WithFetchRetry(cfg.Repository.FetchAttempts, cfg.Repository.FetchBackoff),
		vcs.WithLogger(c.logger),
	)
	if err != nil {
		return nil, errors.GitWrap(err, op, "failed to open working copy for "+target.Mode.String())
	}

	backend := pipeline.NewCommandBackend(pipeline.Commands{
		UpdateSchema:  cfg.Pipeline.UpdateSchema,
		Precompute:    cfg.Pipeline.Precompute,
		CollectStatic: cfg.Pipeline.CollectStatic,
		Compile:       cfg.Pipeline.Compile,
		Env:           cfg.Pipeline.Env,
	}, pipeline.WithBackendLogger(c.logger))

	steps := pipeline.New(repo, backend, c.audit, pipeline.Options{
		Directories:   cfg.Pipeline.Directories,
		StaticRoot:    cfg.Pipeline.StaticRoot,
		LocalSettings: cfg.Pipeline.LocalSettings,
		AvailableDir:  cfg.Supervisor.AvailableDir,
		StepTimeout:   cfg.Pipeline.StepTimeout,
	}, pipeline.WithLogger(c.logger), pipeline.WithObserver(c.metrics))

	return orchestrator.New(orchestrator.Dependencies{
		Locker:    c.locks,
		Activator: c.services,
		Source:    repo,
		Selector:  vcs.NewSelector(repo),
		Pipeline:  steps,
		Recorder:  c.metrics,
	}, append([]orchestrator.Option{orchestrator.WithLogger(c.logger)}, opts...)...), nil
}

// Close flushes registered components in reverse order. It is safe to call
// more than once.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for i := len(c.closeables) - 1; i >= 0; i-- {
		if err := c.closeables[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		c.logger.Warn("some components failed to close cleanly", "error_count", len(errs))
		return errs[0]
	}
	return nil
}

type textfileWriter struct {
	metrics *observability.Metrics
	path    string
}

func (w *textfileWriter) Close() error {
	if err := w.metrics.WriteTextfiles(w.path); err != nil {
		return errors.IOWrap(err, "container.Close", "failed to write metrics textfile")
	}
	return nil
}
