package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicta-tech/sitedeploy/internal/config"
	"github.com/relicta-tech/sitedeploy/internal/container"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/lock"
)

// stubDeployHooks replaces the runDeploy hooks and restores them when the
// test ends.
func stubDeployHooks(t *testing.T, user func() (string, error), execve execFunc, getenv func(string) string) {
	t.Helper()
	prevExec, prevUser, prevEnv, prevContainer := processExec, lookupUser, lookupEnv, newContainer
	t.Cleanup(func() {
		processExec, lookupUser, lookupEnv, newContainer = prevExec, prevUser, prevEnv, prevContainer
		releaseMode, outputJSON = false, false
	})
	processExec, lookupUser, lookupEnv = execve, user, getenv
}

func deployCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

// captureStdout returns what fn wrote to os.Stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	prev := os.Stdout
	os.Stdout = w
	done := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(r)
		done <- data
	}()

	defer func() {
		os.Stdout = prev
	}()
	fn()
	require.NoError(t, w.Close())
	return string(<-done)
}

func assertNoRunFiles(t *testing.T, c *config.Config) {
	t.Helper()
	for _, path := range []string{c.Lock.Path, c.Lock.SignaturePath, c.Audit.Path} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "%s exists", path)
	}
}

func TestRunDeploy_MissingOperatorTouchesNothing(t *testing.T) {
	tests := []struct {
		name     string
		operator string
	}{
		{name: "unset", operator: ""},
		{name: "superuser", operator: "root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := useTempConfig(t)
			stubDeployHooks(t,
				func() (string, error) { return "tbpweb", nil },
				func(string, []string, []string) error {
					t.Fatal("re-exec without a service account")
					return nil
				},
				func(string) string { return tt.operator },
			)
			newContainer = func(*config.Config, *log.Logger, string) (*container.Container, error) {
				t.Fatal("container built before the identity check")
				return nil, nil
			}

			err := runDeploy(deployCommand(), nil)
			require.Error(t, err)
			assert.True(t, sderrors.IsKind(err, sderrors.KindIdentity))
			assert.Equal(t, 0, sderrors.ExitCode(err))
			assertNoRunFiles(t, c)
		})
	}
}

func TestRunDeploy_ReexecBeforeIdentityCheck(t *testing.T) {
	c := useTempConfig(t)
	c.Identity.ServiceAccount = "tbpweb"

	var order []string
	var argv0 string
	stubDeployHooks(t,
		func() (string, error) {
			order = append(order, "user")
			return "root", nil
		},
		func(path string, _ []string, _ []string) error {
			order = append(order, "exec")
			argv0 = path
			return nil
		},
		func(string) string {
			order = append(order, "env")
			return ""
		},
	)

	err := runDeploy(deployCommand(), nil)
	require.Error(t, err)
	assert.True(t, sderrors.IsKind(err, sderrors.KindIdentity))
	assert.Equal(t, []string{"user", "exec", "env"}, order)
	assert.Equal(t, c.Identity.SudoPath, argv0)
	assertNoRunFiles(t, c)
}

func TestRunDeploy_ReexecFailureStopsRun(t *testing.T) {
	c := useTempConfig(t)
	c.Identity.ServiceAccount = "tbpweb"

	envRead := false
	stubDeployHooks(t,
		func() (string, error) { return "alice", nil },
		func(string, []string, []string) error { return errors.New("sudo: not allowed") },
		func(string) string {
			envRead = true
			return "alice"
		},
	)

	err := runDeploy(deployCommand(), nil)
	require.Error(t, err)
	assert.True(t, sderrors.IsKind(err, sderrors.KindInternal))
	assert.Contains(t, err.Error(), "tbpweb")
	assert.False(t, envRead)
	assertNoRunFiles(t, c)
}

func TestRunDeploy_ServiceAccountSkipsReexec(t *testing.T) {
	c := useTempConfig(t)
	c.Identity.ServiceAccount = "tbpweb"

	stubDeployHooks(t,
		func() (string, error) { return "tbpweb", nil },
		func(string, []string, []string) error {
			t.Fatal("re-exec while already running as the service account")
			return nil
		},
		func(string) string { return "" },
	)

	err := runDeploy(deployCommand(), nil)
	assert.True(t, sderrors.IsKind(err, sderrors.KindIdentity))
}

func TestRunDeploy_ConflictPrintsNoBanner(t *testing.T) {
	c := useTempConfig(t)
	c.Targets.Staging.DeployPath = filepath.Join(t.TempDir(), "site-dev")
	_, err := git.PlainInit(c.Targets.Staging.DeployPath, false)
	require.NoError(t, err)

	held, err := lock.NewManager(c.Lock.Path, c.Lock.SignaturePath).Lock(context.Background(), "bob")
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	stubDeployHooks(t,
		func() (string, error) { return "", nil },
		func(string, []string, []string) error { return nil },
		func(string) string { return "alice" },
	)

	var runErr error
	out := captureStdout(t, func() {
		runErr = runDeploy(deployCommand(), nil)
	})

	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, sderrors.ErrLockConflict)
	assert.Contains(t, runErr.Error(), "bob")
	assert.NotContains(t, out, "deploy by alice")
	_, statErr := os.Stat(c.Audit.Path)
	assert.True(t, os.IsNotExist(statErr), "refused run wrote the deployment log")
}
