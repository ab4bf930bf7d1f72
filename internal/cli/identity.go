package cli

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/relicta-tech/sitedeploy/internal/config"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// CheckIdentity returns the operator named by the configured identity
// variable. A missing operator or the superuser yields an identity error,
// which ends the run without failing it.
func CheckIdentity(cfg config.IdentityConfig, getenv func(string) string) (string, error) {
	const op = "cli.CheckIdentity"

	operator := strings.TrimSpace(getenv(cfg.OperatorEnv))
	if operator == "" {
		return "", sderrors.Identity(op, fmt.Sprintf(
			"%s is not set; run sitedeploy with sudo from your own account so the deploy can be attributed", cfg.OperatorEnv))
	}
	if operator == cfg.Superuser {
		return "", sderrors.Identity(op, fmt.Sprintf(
			"refusing to record %s as the operator; run sitedeploy with sudo from your own account", cfg.Superuser))
	}
	return operator, nil
}

// execFunc replaces the current process image.
type execFunc func(argv0 string, argv []string, envv []string) error

// reexecArgs builds the argv that runs the current command as account.
func reexecArgs(cfg config.IdentityConfig, executable string, args []string) []string {
	argv := []string{cfg.SudoPath, "-u", cfg.ServiceAccount, "--", executable}
	return append(argv, args...)
}

// EnsureServiceAccount re-executes the process as the configured service
// account when it is not already running as it. On success it does not
// return. An empty service account disables the check.
func EnsureServiceAccount(cfg config.IdentityConfig, current func() (string, error), execve execFunc) error {
	const op = "cli.EnsureServiceAccount"

	if cfg.ServiceAccount == "" {
		return nil
	}
	name, err := current()
	if err != nil {
		return sderrors.InternalWrap(err, op, "failed to determine the current user")
	}
	if name == cfg.ServiceAccount {
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return sderrors.InternalWrap(err, op, "failed to locate the sitedeploy executable")
	}
	argv := reexecArgs(cfg, executable, os.Args[1:])
	logger.Debug("re-executing as service account", "account", cfg.ServiceAccount, "from", name)
	if err := execve(cfg.SudoPath, argv, os.Environ()); err != nil {
		return sderrors.InternalWrap(err, op, "failed to re-execute as "+cfg.ServiceAccount)
	}
	return nil
}

func currentUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
