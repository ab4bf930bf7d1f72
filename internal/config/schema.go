// Package config provides configuration management for sitedeploy.
package config

import (
	"time"
)

// Config is the root configuration for sitedeploy.
type Config struct {
	// Repository configures the working copies and their remote.
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	// Targets holds the staging and production deploy targets.
	Targets TargetsConfig `mapstructure:"targets" json:"targets"`
	// Lock configures the single-flight deploy lock.
	Lock LockConfig `mapstructure:"lock" json:"lock"`
	// Audit configures the deployment log.
	Audit AuditConfig `mapstructure:"audit" json:"audit"`
	// Supervisor configures the service supervisor config directories.
	Supervisor SupervisorConfig `mapstructure:"supervisor" json:"supervisor"`
	// Pipeline configures the build and configure steps.
	Pipeline PipelineConfig `mapstructure:"pipeline" json:"pipeline"`
	// Identity configures operator identity checks and privilege re-exec.
	Identity IdentityConfig `mapstructure:"identity" json:"identity"`
	// Metrics configures the per-run metrics textfile.
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
	// Output configures output settings.
	Output OutputConfig `mapstructure:"output" json:"output"`
}

// RepositoryConfig configures git operations on the deploy working copies.
type RepositoryConfig struct {
	// Remote is the remote to fetch from (default: "origin").
	Remote string `mapstructure:"remote" json:"remote"`
	// Branch is the tracked mainline branch (default: "master").
	Branch string `mapstructure:"branch" json:"branch"`
	// UseCLIFallback enables falling back to the git CLI when a go-git fetch
	// fails. This is useful for credential helpers (default: true).
	UseCLIFallback *bool `mapstructure:"use_cli_fallback" json:"use_cli_fallback,omitempty"`
	// Auth configures git authentication.
	Auth GitAuthConfig `mapstructure:"auth" json:"auth,omitempty"`
	// FetchAttempts bounds how often a failed fetch is tried (default: 1, no retry).
	FetchAttempts int `mapstructure:"fetch_attempts" json:"fetch_attempts"`
	// FetchBackoff is the delay before the second attempt; later delays double.
	FetchBackoff time.Duration `mapstructure:"fetch_backoff" json:"fetch_backoff"`
}

// GitAuthConfig configures git authentication.
type GitAuthConfig struct {
	// Type is the authentication type: "auto" (default), "token", "ssh", "basic".
	Type string `mapstructure:"type" json:"type,omitempty"`
	// Token is the personal access token for HTTPS auth.
	Token string `mapstructure:"token" json:"token,omitempty"`
	// Username is the username for basic auth.
	Username string `mapstructure:"username" json:"username,omitempty"`
	// Password is the password for basic auth.
	Password string `mapstructure:"password" json:"password,omitempty"`
	// SSHKeyPath is the path to the SSH private key file.
	SSHKeyPath string `mapstructure:"ssh_key_path" json:"ssh_key_path,omitempty"`
	// SSHKeyPassword is the password for the SSH key.
	SSHKeyPassword string `mapstructure:"ssh_key_password" json:"ssh_key_password,omitempty"`
}

// UseCLI returns whether to use CLI fallback (defaults to true).
func (r *RepositoryConfig) UseCLI() bool {
	if r.UseCLIFallback == nil {
		return true
	}
	return *r.UseCLIFallback
}

// TargetsConfig holds one TargetConfig per mode.
type TargetsConfig struct {
	Staging    TargetConfig `mapstructure:"staging" json:"staging"`
	Production TargetConfig `mapstructure:"production" json:"production"`
}

// TargetConfig describes one deploy target.
type TargetConfig struct {
	// DeployPath is the git working copy the site is served from.
	DeployPath string `mapstructure:"deploy_path" json:"deploy_path"`
	// ConfigName is the file name of the supervisor config.
	ConfigName string `mapstructure:"config_name" json:"config_name"`
	// SocketPath is where the supervisor listens for this target.
	SocketPath string `mapstructure:"socket_path" json:"socket_path"`
	// URLPrefix rewrites the site and asset URL roots. Empty for production.
	URLPrefix string `mapstructure:"url_prefix" json:"url_prefix,omitempty"`
	// ServiceConfig is the supervisor config to publish, relative to DeployPath.
	ServiceConfig string `mapstructure:"service_config" json:"service_config"`
}

// LockConfig configures the deploy lock.
type LockConfig struct {
	// Path is the empty file used as the exclusive lock handle.
	Path string `mapstructure:"path" json:"path"`
	// SignaturePath records the current holder for conflicting runs.
	SignaturePath string `mapstructure:"signature_path" json:"signature_path"`
}

// AuditConfig configures the deployment log.
type AuditConfig struct {
	// Path is the append-only deployment log.
	Path string `mapstructure:"path" json:"path"`
}

// SupervisorConfig configures the service supervisor integration.
type SupervisorConfig struct {
	// AvailableDir receives published configs.
	AvailableDir string `mapstructure:"available_dir" json:"available_dir"`
	// EnabledDir holds links to the active configs.
	EnabledDir string `mapstructure:"enabled_dir" json:"enabled_dir"`
	// ReloadCommand is run after a target is enabled. Optional.
	ReloadCommand []string `mapstructure:"reload_command" json:"reload_command,omitempty"`
}

// PipelineConfig configures the deployment pipeline.
type PipelineConfig struct {
	// StepTimeout bounds each external step. Zero disables the bound.
	StepTimeout time.Duration `mapstructure:"step_timeout" json:"step_timeout"`
	// Env holds KEY=VALUE pairs added to the environment of every step command.
	Env []string `mapstructure:"env" json:"env,omitempty"`
	// Directories are created under the deploy path if absent.
	Directories []string `mapstructure:"directories" json:"directories,omitempty"`
	// StaticRoot is cleared before static assets are collected.
	StaticRoot string `mapstructure:"static_root" json:"static_root"`
	// LocalSettings is the staging override file, relative to the deploy path.
	LocalSettings string `mapstructure:"local_settings" json:"local_settings"`
	// UpdateSchema runs the database schema update.
	UpdateSchema []string `mapstructure:"update_schema" json:"update_schema,omitempty"`
	// Precompute runs generated-content precomputation. Empty skips the step.
	Precompute []string `mapstructure:"precompute" json:"precompute,omitempty"`
	// CollectStatic collects static assets into StaticRoot.
	CollectStatic []string `mapstructure:"collect_static" json:"collect_static,omitempty"`
	// Compile precompiles sources into bytecode.
	Compile []string `mapstructure:"compile" json:"compile,omitempty"`
}

// IdentityConfig configures operator identity handling.
type IdentityConfig struct {
	// OperatorEnv names the variable that carries the invoking operator.
	OperatorEnv string `mapstructure:"operator_env" json:"operator_env"`
	// Superuser is the account that may never be recorded as operator.
	Superuser string `mapstructure:"superuser" json:"superuser"`
	// ServiceAccount is the account deploys run as. Empty disables re-exec.
	ServiceAccount string `mapstructure:"service_account" json:"service_account,omitempty"`
	// SudoPath is the privilege re-exec helper.
	SudoPath string `mapstructure:"sudo_path" json:"sudo_path"`
}

// MetricsConfig configures run metrics.
type MetricsConfig struct {
	// Textfile is a node-exporter textfile path. Empty disables metrics.
	Textfile string `mapstructure:"textfile" json:"textfile,omitempty"`
}

// OutputConfig configures output settings.
type OutputConfig struct {
	// Format is the log format (text, json).
	Format string `mapstructure:"format" json:"format"`
	// Color enables colored output.
	Color bool `mapstructure:"color" json:"color"`
	// Verbose enables verbose output.
	Verbose bool `mapstructure:"verbose" json:"verbose"`
	// LogFile is the path to a log file.
	LogFile string `mapstructure:"log_file" json:"log_file,omitempty"`
	// LogLevel is the log level (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// ConfigFileNames are the base names searched for a config file.
var ConfigFileNames = []string{"sitedeploy", ".sitedeploy"}

// ConfigFileExtensions are the extensions searched for a config file.
var ConfigFileExtensions = []string{"yaml", "yml", "json", "toml"}

// DefaultSearchPaths are the directories searched for a config file.
var DefaultSearchPaths = []string{".", "/etc/sitedeploy"}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Repository: RepositoryConfig{
			Remote: "origin",
			Branch: "master",
			Auth:   GitAuthConfig{Type: "auto"},

			FetchAttempts: 1,
			FetchBackoff:  2 * time.Second,
		},
		Targets: TargetsConfig{
			Staging: TargetConfig{
				DeployPath:    "/srv/tbpweb-dev",
				ConfigName:    "tbpweb-dev.ini",
				SocketPath:    "/run/uwsgi/tbpweb-dev.sock",
				URLPrefix:     "/dev",
				ServiceConfig: "config/uwsgi/tbpweb-dev.ini",
			},
			Production: TargetConfig{
				DeployPath:    "/srv/tbpweb",
				ConfigName:    "tbpweb.ini",
				SocketPath:    "/run/uwsgi/tbpweb.sock",
				ServiceConfig: "config/uwsgi/tbpweb.ini",
			},
		},
		Lock: LockConfig{
			Path:          "/var/lock/tbpweb-deploy.lock",
			SignaturePath: "/var/lock/tbpweb-deploy.sig",
		},
		Audit: AuditConfig{
			Path: "/var/log/tbpweb/deploy.log",
		},
		Supervisor: SupervisorConfig{
			AvailableDir: "/etc/uwsgi/apps-available",
			EnabledDir:   "/etc/uwsgi/apps-enabled",
		},
		Pipeline: PipelineConfig{
			StepTimeout:   15 * time.Minute,
			Directories:   []string{"media", "static"},
			StaticRoot:    "static",
			LocalSettings: "settings/local.py",
			UpdateSchema:  []string{"python", "manage.py", "migrate", "--noinput"},
			CollectStatic: []string{"python", "manage.py", "collectstatic", "--noinput"},
			Compile:       []string{"python", "-m", "compileall", "-q", "."},
		},
		Identity: IdentityConfig{
			OperatorEnv: "SUDO_USER",
			Superuser:   "root",
			SudoPath:    "/usr/bin/sudo",
		},
		Output: OutputConfig{
			Format:   "text",
			Color:    true,
			LogLevel: "info",
		},
	}
}
