// Package activator adds and removes deploy targets from the service
// supervisor by managing links in its enabled-configs directory.
package activator

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/fileutil"
)

// ReloadFunc runs the supervisor reload command.
type ReloadFunc func(ctx context.Context, argv []string) ([]byte, error)

// Activator implements deploy.Activator.
type Activator struct {
	availableDir string
	enabledDir   string
	reload       []string
	runReload    ReloadFunc
	logger       *log.Logger
}

// Option configures an Activator.
type Option func(*Activator)

// WithReloadCommand sets the command run after a target is enabled.
func WithReloadCommand(argv []string) Option {
	return func(a *Activator) {
		a.reload = argv
	}
}

// WithReloadFunc replaces how the reload command is executed.
func WithReloadFunc(fn ReloadFunc) Option {
	return func(a *Activator) {
		a.runReload = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Activator) {
		a.logger = l
	}
}

// New creates an Activator over the supervisor config directories.
func New(availableDir, enabledDir string, opts ...Option) *Activator {
	a := &Activator{
		availableDir: availableDir,
		enabledDir:   enabledDir,
		runReload:    execReload,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ deploy.Activator = (*Activator)(nil)

// Disable removes the enabled link and the socket of target. Missing
// entries are ignored.
func (a *Activator) Disable(target deploy.Target) error {
	const op = "activator.Disable"

	link := a.enabledPath(target)
	removedLink, err := fileutil.RemoveIfExists(link)
	if err != nil {
		return sderrors.IOWrap(err, op, "failed to remove "+link)
	}
	removedSocket := false
	if target.SocketPath != "" {
		removedSocket, err = fileutil.RemoveIfExists(target.SocketPath)
		if err != nil {
			return sderrors.IOWrap(err, op, "failed to remove "+target.SocketPath)
		}
	}

	a.logger.Info("service disabled", "target", target.Mode, "link_removed", removedLink, "socket_removed", removedSocket)
	return nil
}

// Enable links the published config of target into the enabled directory.
// A previous link is removed first, so at most one link exists per name.
func (a *Activator) Enable(ctx context.Context, target deploy.Target) error {
	const op = "activator.Enable"

	available := a.availablePath(target)
	info, err := os.Stat(available)
	if errors.Is(err, fs.ErrNotExist) {
		return sderrors.IO(op, target.ConfigName+" has not been published to "+a.availableDir)
	}
	if err != nil {
		return sderrors.IOWrap(err, op, "failed to stat "+available)
	}
	if !info.Mode().IsRegular() {
		return sderrors.IO(op, available+" is not a regular file")
	}

	if err := os.MkdirAll(a.enabledDir, 0o755); err != nil {
		return sderrors.IOWrap(err, op, "failed to create "+a.enabledDir)
	}
	link := a.enabledPath(target)
	if _, err := fileutil.RemoveIfExists(link); err != nil {
		return sderrors.IOWrap(err, op, "failed to remove stale "+link)
	}
	if err := os.Symlink(available, link); err != nil {
		return sderrors.IOWrap(err, op, "failed to link "+link)
	}
	a.logger.Info("service enabled", "target", target.Mode, "config", link)

	if len(a.reload) == 0 {
		return nil
	}
	out, err := a.runReload(ctx, a.reload)
	if err != nil {
		msg := "reload command failed"
		if s := strings.TrimSpace(string(out)); s != "" {
			msg += ": " + sderrors.RedactSensitive(s)
		}
		return sderrors.IOWrap(err, op, msg)
	}
	return nil
}

// Enabled reports whether target currently has an enabled link.
func (a *Activator) Enabled(target deploy.Target) bool {
	_, err := os.Lstat(a.enabledPath(target))
	return err == nil
}

func (a *Activator) availablePath(target deploy.Target) string {
	return filepath.Join(a.availableDir, target.ConfigName)
}

func (a *Activator) enabledPath(target deploy.Target) string {
	return filepath.Join(a.enabledDir, target.ConfigName)
}

func execReload(ctx context.Context, argv []string) ([]byte, error) {
	return exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput() // #nosec G204 -- argv comes from the operator's config
}
