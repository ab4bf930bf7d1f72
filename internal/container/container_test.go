package container

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicta-tech/sitedeploy/internal/config"
	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/observability"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Targets.Staging.DeployPath = filepath.Join(root, "site-dev")
	cfg.Targets.Production.DeployPath = filepath.Join(root, "site")
	cfg.Lock.Path = filepath.Join(root, "deploy.lock")
	cfg.Lock.SignaturePath = filepath.Join(root, "deploy.sig")
	cfg.Audit.Path = filepath.Join(root, "deploy.log")
	cfg.Supervisor.AvailableDir = filepath.Join(root, "apps-available")
	cfg.Supervisor.EnabledDir = filepath.Join(root, "apps-enabled")
	return cfg
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil, nil, "dev")
	require.Error(t, err)
	assert.True(t, sderrors.IsKind(err, sderrors.KindConfig))
}

func TestTargets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets.Production.URLPrefix = "/ignored"
	c, err := New(cfg, log.New(io.Discard), "dev")
	require.NoError(t, err)

	staging := c.Target(deploy.ModeStaging)
	assert.Equal(t, deploy.ModeStaging, staging.Mode)
	assert.Equal(t, cfg.Targets.Staging.DeployPath, staging.DeployPath)
	assert.Equal(t, "/dev", staging.URLPrefix)
	assert.Equal(t, "tbpweb-dev.ini", staging.ConfigName)

	prod := c.Target(deploy.ModeProduction)
	assert.Equal(t, deploy.ModeProduction, prod.Mode)
	assert.Equal(t, "", prod.URLPrefix)
	assert.Equal(t, "config/uwsgi/tbpweb.ini", prod.ServiceConfig)

	assert.Equal(t, cfg.Lock.Path, c.Locks().LockPath())
	assert.Equal(t, cfg.Audit.Path, c.Audit().Path())
	assert.False(t, c.Services().Enabled(staging))
}

func TestOrchestrator_RequiresWorkingCopy(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, log.New(io.Discard), "dev")
	require.NoError(t, err)

	_, err = c.Orchestrator(c.Target(deploy.ModeStaging))
	require.Error(t, err)
	assert.True(t, sderrors.IsKind(err, sderrors.KindGit))

	_, err = git.PlainInit(cfg.Targets.Staging.DeployPath, false)
	require.NoError(t, err)
	o, err := c.Orchestrator(c.Target(deploy.ModeStaging))
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestClose_WritesMetricsTextfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "sitedeploy.prom")
	c, err := New(cfg, log.New(io.Discard), "1.2.3")
	require.NoError(t, err)

	c.metrics.RecordRun(c.Target(deploy.ModeStaging), true, time.Second)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	data, err := os.ReadFile(observability.RunTextfile(cfg.Metrics.Textfile, deploy.ModeStaging))
	require.NoError(t, err)
	assert.Contains(t, string(data), `sitedeploy_info{target="staging",version="1.2.3"} 1`)
}

func TestClose_NoRunWritesNoTextfile(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.Metrics.Textfile = filepath.Join(dir, "sitedeploy.prom")
	c, err := New(cfg, log.New(io.Discard), "1.2.3")
	require.NoError(t, err)

	require.NoError(t, c.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
