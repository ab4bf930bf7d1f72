package activator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

type dirs struct {
	available string
	enabled   string
	run       string
}

func setup(t *testing.T) (dirs, deploy.Target) {
	t.Helper()
	root := t.TempDir()
	d := dirs{
		available: filepath.Join(root, "apps-available"),
		enabled:   filepath.Join(root, "apps-enabled"),
		run:       filepath.Join(root, "run"),
	}
	for _, dir := range []string{d.available, d.enabled, d.run} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	target := deploy.Target{
		Mode:       deploy.ModeStaging,
		ConfigName: "site-dev.ini",
		SocketPath: filepath.Join(d.run, "site-dev.sock"),
	}
	return d, target
}

func quiet() Option {
	return WithLogger(log.New(io.Discard))
}

func TestDisable(t *testing.T) {
	d, target := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(d.available, target.ConfigName), []byte("[uwsgi]\n"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(d.available, target.ConfigName), filepath.Join(d.enabled, target.ConfigName)))
	require.NoError(t, os.WriteFile(target.SocketPath, nil, 0o600))

	a := New(d.available, d.enabled, quiet())
	require.True(t, a.Enabled(target))

	require.NoError(t, a.Disable(target))
	assert.False(t, a.Enabled(target))
	assert.NoFileExists(t, target.SocketPath)
	assert.FileExists(t, filepath.Join(d.available, target.ConfigName), "published config stays")
}

func TestDisable_NeverEnabled(t *testing.T) {
	d, target := setup(t)
	a := New(d.available, d.enabled, quiet())

	require.NoError(t, a.Disable(target))
	require.NoError(t, a.Disable(target))
}

func TestEnable_ReplacesStaleLink(t *testing.T) {
	d, target := setup(t)
	published := filepath.Join(d.available, target.ConfigName)
	require.NoError(t, os.WriteFile(published, []byte("new"), 0o644))

	stale := filepath.Join(d.enabled, target.ConfigName)
	require.NoError(t, os.WriteFile(stale, []byte("old copy"), 0o644))

	a := New(d.available, d.enabled, quiet())
	require.NoError(t, a.Enable(context.Background(), target))

	dest, err := os.Readlink(stale)
	require.NoError(t, err)
	assert.Equal(t, published, dest)

	entries, err := os.ReadDir(d.enabled)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestEnable_RequiresPublishedConfig(t *testing.T) {
	d, target := setup(t)
	a := New(d.available, d.enabled, quiet())

	err := a.Enable(context.Background(), target)
	require.Error(t, err)
	assert.True(t, sderrors.IsKind(err, sderrors.KindIO))
	assert.False(t, a.Enabled(target))
}

func TestEnable_Reload(t *testing.T) {
	d, target := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(d.available, target.ConfigName), []byte("x"), 0o644))

	var got []string
	a := New(d.available, d.enabled, quiet(),
		WithReloadCommand([]string{"systemctl", "reload", "uwsgi"}),
		WithReloadFunc(func(_ context.Context, argv []string) ([]byte, error) {
			got = argv
			return nil, nil
		}),
	)
	require.NoError(t, a.Enable(context.Background(), target))
	assert.Equal(t, []string{"systemctl", "reload", "uwsgi"}, got)

	failing := New(d.available, d.enabled, quiet(),
		WithReloadCommand([]string{"systemctl", "reload", "uwsgi"}),
		WithReloadFunc(func(context.Context, []string) ([]byte, error) {
			return []byte("Job for uwsgi.service failed\n"), errors.New("exit status 1")
		}),
	)
	err := failing.Enable(context.Background(), target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Job for uwsgi.service failed")
	assert.True(t, failing.Enabled(target), "link stays when only the reload fails")
}
