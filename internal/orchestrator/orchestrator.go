// Package orchestrator runs one single-flight deployment from lock
// acquisition to lock release.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/felixgeelhaar/statekit"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/pipeline"
)

// Selector picks the release to deploy for a mode.
type Selector interface {
	Select(ctx context.Context, mode deploy.Mode, operator string) (deploy.Release, error)
}

// Deployer runs the deployment pipeline.
type Deployer interface {
	Run(ctx context.Context, target deploy.Target, release deploy.Release) (*pipeline.Report, error)
}

// Recorder receives run-level metrics.
type Recorder interface {
	RecordRun(target deploy.Target, success bool, duration time.Duration)
	RecordLockConflict(target deploy.Target)
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Locker    deploy.Locker
	Activator deploy.Activator
	Source    deploy.SourceControl
	Selector  Selector
	Pipeline  Deployer
	// Recorder is optional.
	Recorder Recorder
}

// Orchestrator drives lock, disable, resolve, deploy and enable in order.
type Orchestrator struct {
	deps     Dependencies
	logger   *log.Logger
	now      func() time.Time
	onLocked func(deploy.Target)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLockedHook sets a function called once the deploy lock is held and
// before the service is disabled.
func WithLockedHook(fn func(deploy.Target)) Option {
	return func(o *Orchestrator) {
		o.onLocked = fn
	}
}

// New creates an Orchestrator.
func New(deps Dependencies, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:   deps,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result describes a finished run. It is returned on failure too.
type Result struct {
	Target  deploy.Target
	Release deploy.Release
	// Report is nil when the run failed before the pipeline started.
	Report *pipeline.Report
	// Path lists the run states visited, ending in lock_released.
	Path     []statekit.StateID
	Duration time.Duration
}

// Succeeded reports whether the run reached the done state.
func (r *Result) Succeeded() bool {
	for _, s := range r.Path {
		if s == deploy.StateDone {
			return true
		}
	}
	return false
}

// Run deploys the release selected for target on behalf of operator. The
// deploy lock is released on every return path. A failure after the
// service was disabled leaves it disabled.
func (o *Orchestrator) Run(ctx context.Context, target deploy.Target, operator string) (res *Result, err error) {
	const op = "orchestrator.Run"

	machine, err := deploy.NewRunMachine()
	if err != nil {
		return nil, sderrors.InternalWrap(err, op, "failed to create run state machine")
	}
	machine.Start()

	res = &Result{Target: target}
	start := o.now()
	logger := o.logger.With("target", target.Mode, "operator", operator)

	// A refused run never touched the target, so it leaves the run
	// metrics of the previous deploy alone.
	var refused bool
	defer func() {
		res.Path = machine.Path()
		res.Duration = o.now().Sub(start)
		if o.deps.Recorder != nil && !refused {
			o.deps.Recorder.RecordRun(target, err == nil, res.Duration)
		}
	}()

	advance := func(event statekit.EventType) error {
		if serr := machine.Send(event); serr != nil {
			return sderrors.StateWrap(serr, op, "invalid run transition")
		}
		logger.Debug("run state", "state", machine.State())
		return nil
	}
	abort := func(cause error) error {
		if serr := advance(deploy.EventFail); serr != nil {
			return errors.Join(cause, serr)
		}
		return cause
	}

	if err := advance(deploy.EventAcquire); err != nil {
		return res, err
	}
	lease, err := o.deps.Locker.Lock(ctx, operator)
	if err != nil {
		if sderrors.IsKind(err, sderrors.KindConflict) {
			refused = true
			if o.deps.Recorder != nil {
				o.deps.Recorder.RecordLockConflict(target)
			}
		}
		err = abort(err)
		// Nothing is held, so the release is only a state change.
		_ = advance(deploy.EventRelease)
		return res, err
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			logger.Error("failed to release deploy lock", "error", rerr)
			err = errors.Join(err, rerr)
		}
		if serr := advance(deploy.EventRelease); serr != nil {
			err = errors.Join(err, serr)
		}
		logger.Debug("deploy lock released")
	}()
	if err := advance(deploy.EventLocked); err != nil {
		return res, abort(err)
	}
	if o.onLocked != nil {
		o.onLocked(target)
	}

	if err := o.deps.Activator.Disable(target); err != nil {
		return res, abort(err)
	}
	if err := advance(deploy.EventDisabled); err != nil {
		return res, abort(err)
	}

	logger.Info("synchronizing working copy")
	if err := o.deps.Source.Sync(ctx); err != nil {
		return res, abort(err)
	}
	release, err := o.deps.Selector.Select(ctx, target.Mode, operator)
	if err != nil {
		return res, abort(err)
	}
	res.Release = release
	logger.Info("selected release", "ref", release.Ref, "commit", release.Commit)
	if err := advance(deploy.EventResolved); err != nil {
		return res, abort(err)
	}

	report, err := o.deps.Pipeline.Run(ctx, target, release)
	res.Report = report
	if err != nil {
		return res, abort(err)
	}
	if err := advance(deploy.EventDeployed); err != nil {
		return res, abort(err)
	}

	if err := o.deps.Activator.Enable(ctx, target); err != nil {
		return res, abort(err)
	}
	if err := advance(deploy.EventEnabled); err != nil {
		return res, abort(err)
	}

	logger.Info("deploy finished", "ref", release.Ref)
	return res, nil
}
