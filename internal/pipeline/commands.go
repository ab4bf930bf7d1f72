package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// ErrSkipped is returned by a step that has nothing to do. The pipeline
// records the step as skipped and moves on.
var ErrSkipped = errors.New("step skipped")

// outputTailSize bounds how much command output is attached to an error.
const outputTailSize = 2048

// Runner executes one external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, argv []string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run runs argv in dir with env appended to the process environment.
// The command is killed when ctx is done.
func (ExecRunner) Run(ctx context.Context, dir string, env []string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- argv comes from the operator's config
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Commands holds the argv of each application task. An empty argv skips
// the task.
type Commands struct {
	UpdateSchema  []string
	Precompute    []string
	CollectStatic []string
	Compile       []string
	Env           []string
}

// CommandBackend implements deploy.Application by running the configured
// commands inside the deploy path.
type CommandBackend struct {
	cmds   Commands
	runner Runner
	logger *log.Logger
}

// BackendOption configures a CommandBackend.
type BackendOption func(*CommandBackend)

// WithRunner replaces the command runner.
func WithRunner(r Runner) BackendOption {
	return func(b *CommandBackend) {
		b.runner = r
	}
}

// WithBackendLogger sets the logger that receives command output.
func WithBackendLogger(l *log.Logger) BackendOption {
	return func(b *CommandBackend) {
		b.logger = l
	}
}

// NewCommandBackend creates a CommandBackend.
func NewCommandBackend(cmds Commands, opts ...BackendOption) *CommandBackend {
	b := &CommandBackend{
		cmds:   cmds,
		runner: ExecRunner{},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ deploy.Application = (*CommandBackend)(nil)

// UpdateSchema runs the schema migration command.
func (b *CommandBackend) UpdateSchema(ctx context.Context, target deploy.Target) error {
	return b.run(ctx, deploy.StepUpdateSchema, target, b.cmds.UpdateSchema)
}

// PrecomputeContent runs the generated-content command, if any.
func (b *CommandBackend) PrecomputeContent(ctx context.Context, target deploy.Target) error {
	return b.run(ctx, deploy.StepPrecomputeContent, target, b.cmds.Precompute)
}

// CollectStatic runs the static asset collection command. The pipeline
// clears the static root before calling it.
func (b *CommandBackend) CollectStatic(ctx context.Context, target deploy.Target) error {
	return b.run(ctx, deploy.StepCollectStatic, target, b.cmds.CollectStatic)
}

// CompileBytecode runs the bytecode compiler quietly; its output is only
// logged at debug level or attached to a failure.
func (b *CommandBackend) CompileBytecode(ctx context.Context, target deploy.Target) error {
	return b.run(ctx, deploy.StepCompileBytecode, target, b.cmds.Compile)
}

// Configured reports whether a command is set for step. Steps without one
// are skipped.
func (b *CommandBackend) Configured(step deploy.StepName) bool {
	switch step {
	case deploy.StepUpdateSchema:
		return len(b.cmds.UpdateSchema) > 0
	case deploy.StepPrecomputeContent:
		return len(b.cmds.Precompute) > 0
	case deploy.StepCollectStatic:
		return len(b.cmds.CollectStatic) > 0
	case deploy.StepCompileBytecode:
		return len(b.cmds.Compile) > 0
	}
	return false
}

func (b *CommandBackend) run(ctx context.Context, step deploy.StepName, target deploy.Target, argv []string) error {
	if len(argv) == 0 {
		return ErrSkipped
	}

	out, err := b.runner.Run(ctx, target.DeployPath, b.cmds.Env, argv)
	if len(out) > 0 {
		b.logger.Debug("command output", "step", step, "output", sderrors.RedactSensitive(string(out)))
	}
	if err != nil {
		msg := strings.Join(argv, " ") + " failed"
		if tail := outputTail(out); tail != "" {
			msg += ": " + tail
		}
		return sderrors.IOWrap(sderrors.RedactError(err), "pipeline.exec", msg)
	}
	return nil
}

// outputTail returns the redacted end of out.
func outputTail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > outputTailSize {
		s = "..." + s[len(s)-outputTailSize:]
	}
	return sderrors.RedactSensitive(s)
}
