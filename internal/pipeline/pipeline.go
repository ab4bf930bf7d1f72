// Package pipeline runs the ordered deployment steps against one target.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// Options holds the filesystem layout the steps work against. Relative paths
// are resolved under the deploy path of the target.
type Options struct {
	Directories   []string
	StaticRoot    string
	LocalSettings string
	// AvailableDir receives the published supervisor config.
	AvailableDir string
	// StepTimeout bounds each step. Zero means no bound.
	StepTimeout time.Duration
}

// StepConfigurer is implemented by application backends that may leave
// steps unconfigured.
type StepConfigurer interface {
	Configured(step deploy.StepName) bool
}

// Observer is told about every finished step.
type Observer interface {
	ObserveStep(target deploy.Target, result StepResult)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     deploy.StepName
	Outcome  deploy.StepOutcome
	Duration time.Duration
	Err      error
}

// Report summarizes one pipeline run. Steps holds only the steps that were
// attempted, in order.
type Report struct {
	Target   deploy.Target
	Release  deploy.Release
	Steps    []StepResult
	Duration time.Duration
}

// Failed returns the failed step, if any.
func (r *Report) Failed() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Outcome == deploy.OutcomeFailed {
			return s, true
		}
	}
	return StepResult{}, false
}

// Pipeline executes the deployment steps in order and stops at the first
// failure. Nothing is rolled back.
type Pipeline struct {
	source   deploy.SourceControl
	app      deploy.Application
	audit    deploy.AuditLog
	opts     Options
	logger   *log.Logger
	now      func() time.Time
	observer Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithClock sets the clock used for durations and the audit timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithObserver registers an observer for step results.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// New creates a Pipeline.
func New(source deploy.SourceControl, app deploy.Application, audit deploy.AuditLog, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		source: source,
		app:    app,
		audit:  audit,
		opts:   opts,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

type stepFunc func(ctx context.Context, target deploy.Target, release deploy.Release) error

// step returns the implementation of name.
func (p *Pipeline) step(name deploy.StepName) stepFunc {
	switch name {
	case deploy.StepCheckout:
		return func(ctx context.Context, _ deploy.Target, release deploy.Release) error {
			return p.source.Checkout(ctx, release)
		}
	case deploy.StepEnsureDirectories:
		return p.ensureDirectories
	case deploy.StepUpdateSchema:
		return func(ctx context.Context, target deploy.Target, _ deploy.Release) error {
			return p.app.UpdateSchema(ctx, target)
		}
	case deploy.StepPrecomputeContent:
		return func(ctx context.Context, target deploy.Target, _ deploy.Release) error {
			return p.app.PrecomputeContent(ctx, target)
		}
	case deploy.StepCollectStatic:
		return p.collectStatic
	case deploy.StepPurgeBytecode:
		return p.purgeBytecode
	case deploy.StepWriteLocalSettings:
		return p.writeLocalSettings
	case deploy.StepCompileBytecode:
		return func(ctx context.Context, target deploy.Target, _ deploy.Release) error {
			return p.app.CompileBytecode(ctx, target)
		}
	case deploy.StepPublishServiceConfig:
		return p.publishServiceConfig
	case deploy.StepRecordAudit:
		return p.recordAudit
	}
	return func(context.Context, deploy.Target, deploy.Release) error {
		return sderrors.Internal("pipeline.step", "unknown step "+string(name))
	}
}

// Run executes every step for release against target. The returned error
// names the failed step; the report lists every step attempted.
func (p *Pipeline) Run(ctx context.Context, target deploy.Target, release deploy.Release) (*Report, error) {
	report := &Report{Target: target, Release: release}
	start := p.now()
	defer func() {
		report.Duration = p.now().Sub(start)
	}()

	for _, name := range deploy.Steps {
		result, err := p.runStep(ctx, name, p.step(name), target, release)
		report.Steps = append(report.Steps, result)
		if p.observer != nil {
			p.observer.ObserveStep(target, result)
		}
		if err != nil {
			return report, err
		}
	}

	p.logger.Info("pipeline finished", "target", target.Mode, "ref", release.Ref, "duration", p.now().Sub(start).Round(time.Millisecond))
	return report, nil
}

func (p *Pipeline) runStep(ctx context.Context, name deploy.StepName, fn stepFunc, target deploy.Target, release deploy.Release) (StepResult, error) {
	op := "pipeline." + string(name)
	result := StepResult{Name: name}

	if err := ctx.Err(); err != nil {
		result.Outcome = deploy.OutcomeFailed
		result.Err = sderrors.Step(string(name), sderrors.CanceledWrap(err, op, "deploy interrupted"))
		return result, result.Err
	}

	stepCtx := ctx
	if p.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, p.opts.StepTimeout)
		defer cancel()
	}

	p.logger.Info("running step", "step", name)
	start := p.now()
	err := fn(stepCtx, target, release)
	result.Duration = p.now().Sub(start)

	switch {
	case err == nil:
		result.Outcome = deploy.OutcomeSucceeded
		p.logger.Debug("step finished", "step", name, "duration", result.Duration.Round(time.Millisecond))
		return result, nil
	case errors.Is(err, ErrSkipped):
		result.Outcome = deploy.OutcomeSkipped
		p.logger.Debug("step skipped", "step", name)
		return result, nil
	}

	cause := err
	switch {
	case ctx.Err() != nil:
		cause = sderrors.CanceledWrap(err, op, "deploy interrupted")
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		cause = sderrors.TimeoutWrap(err, op, fmt.Sprintf("step did not finish within %s", p.opts.StepTimeout))
	}

	result.Outcome = deploy.OutcomeFailed
	result.Err = sderrors.Step(string(name), cause)
	p.logger.Error("step failed", "step", name, "error", cause)
	return result, result.Err
}
