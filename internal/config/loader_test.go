package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoader().WithSearchPaths(t.TempDir()).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := DefaultConfig()
	if cfg.Targets.Staging.DeployPath != want.Targets.Staging.DeployPath {
		t.Errorf("staging deploy path = %q, want %q", cfg.Targets.Staging.DeployPath, want.Targets.Staging.DeployPath)
	}
	if cfg.Targets.Production.URLPrefix != "" {
		t.Errorf("production url prefix = %q, want empty", cfg.Targets.Production.URLPrefix)
	}
	if cfg.Pipeline.StepTimeout != 15*time.Minute {
		t.Errorf("step timeout = %v, want 15m", cfg.Pipeline.StepTimeout)
	}
	if len(cfg.Pipeline.Compile) == 0 {
		t.Error("compile command should have a default")
	}
	if !cfg.Repository.UseCLI() {
		t.Error("CLI fallback should default to enabled")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoaderReadsYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "sitedeploy.yaml", `
repository:
  branch: main
  use_cli_fallback: false
targets:
  staging:
    deploy_path: /opt/site-dev
    url_prefix: /preview
lock:
  path: /tmp/site.lock
pipeline:
  step_timeout: 90s
  precompute: [python, manage.py, precompute]
  env:
    - DJANGO_SETTINGS_MODULE=settings.prod
identity:
  service_account: www-data
`)

	loader := NewLoader().WithSearchPaths(dir)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Repository.Branch != "main" {
		t.Errorf("branch = %q, want main", cfg.Repository.Branch)
	}
	if cfg.Repository.UseCLI() {
		t.Error("CLI fallback should be disabled")
	}
	if cfg.Targets.Staging.DeployPath != "/opt/site-dev" {
		t.Errorf("staging deploy path = %q", cfg.Targets.Staging.DeployPath)
	}
	if cfg.Targets.Staging.URLPrefix != "/preview" {
		t.Errorf("staging url prefix = %q", cfg.Targets.Staging.URLPrefix)
	}
	// Untouched keys keep their defaults.
	if cfg.Targets.Staging.ConfigName != "tbpweb-dev.ini" {
		t.Errorf("staging config name = %q", cfg.Targets.Staging.ConfigName)
	}
	if cfg.Lock.Path != "/tmp/site.lock" {
		t.Errorf("lock path = %q", cfg.Lock.Path)
	}
	if cfg.Pipeline.StepTimeout != 90*time.Second {
		t.Errorf("step timeout = %v, want 90s", cfg.Pipeline.StepTimeout)
	}
	if strings.Join(cfg.Pipeline.Precompute, " ") != "python manage.py precompute" {
		t.Errorf("precompute = %v", cfg.Pipeline.Precompute)
	}
	if len(cfg.Pipeline.Env) != 1 || cfg.Pipeline.Env[0] != "DJANGO_SETTINGS_MODULE=settings.prod" {
		t.Errorf("env = %v", cfg.Pipeline.Env)
	}
	if cfg.Identity.ServiceAccount != "www-data" {
		t.Errorf("service account = %q", cfg.Identity.ServiceAccount)
	}
	if !strings.HasSuffix(loader.GetConfigPath(), "sitedeploy.yaml") {
		t.Errorf("GetConfigPath() = %q", loader.GetConfigPath())
	}
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("SITEDEPLOY_AUDIT_PATH", "/tmp/deploy.log")
	t.Setenv("SITEDEPLOY_OUTPUT_LOG_LEVEL", "debug")

	cfg, err := NewLoader().WithSearchPaths(t.TempDir()).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Audit.Path != "/tmp/deploy.log" {
		t.Errorf("audit path = %q, want env override", cfg.Audit.Path)
	}
	if cfg.Output.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Output.LogLevel)
	}
}

func TestLoaderExpandsEnvVars(t *testing.T) {
	t.Setenv("DEPLOY_GIT_TOKEN", "ghp_secret")
	t.Setenv("SITE_ROOT", "/data")

	dir := t.TempDir()
	path := writeConfig(t, dir, "custom.yaml", `
repository:
  auth:
    type: token
    token: ${DEPLOY_GIT_TOKEN}
targets:
  production:
    deploy_path: $SITE_ROOT/tbpweb
metrics:
  textfile: ${METRICS_DIR:-/var/lib/node_exporter}/sitedeploy.prom
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Repository.Auth.Token != "ghp_secret" {
		t.Errorf("token = %q, want expanded value", cfg.Repository.Auth.Token)
	}
	if cfg.Targets.Production.DeployPath != "/data/tbpweb" {
		t.Errorf("deploy path = %q", cfg.Targets.Production.DeployPath)
	}
	if cfg.Metrics.Textfile != "/var/lib/node_exporter/sitedeploy.prom" {
		t.Errorf("textfile = %q", cfg.Metrics.Textfile)
	}
}

func TestExpandEnvVar(t *testing.T) {
	t.Setenv("TOKEN_VALUE", "abc123")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "plain", want: "plain"},
		{in: "${TOKEN_VALUE}", want: "abc123"},
		{in: "pre-$TOKEN_VALUE-post", want: "pre-abc123-post"},
		{in: "${SITEDEPLOY_TEST_MISSING:-fallback}", want: "fallback"},
		{in: "$SITEDEPLOY_TEST_MISSING", want: "$SITEDEPLOY_TEST_MISSING"},
	}
	for _, tt := range tests {
		if got := expandEnvVar(tt.in); got != tt.want {
			t.Errorf("expandEnvVar(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !sderrors.IsKind(err, sderrors.KindConfig) {
		t.Errorf("error kind = %v, want config", sderrors.GetKind(err))
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := FindConfigFile(dir); err == nil {
		t.Error("expected error when no config file exists")
	}

	want := writeConfig(t, dir, ".sitedeploy.yml", "output:\n  format: json\n")
	got, err := FindConfigFile(dir)
	if err != nil {
		t.Fatalf("FindConfigFile() error = %v", err)
	}
	if got != want {
		t.Errorf("FindConfigFile() = %q, want %q", got, want)
	}
}
