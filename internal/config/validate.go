package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// ValidationError contains all validation errors and warnings.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var parts []string

	if len(e.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Errors:\n  - %s", strings.Join(e.Errors, "\n  - ")))
	}

	if len(e.Warnings) > 0 {
		parts = append(parts, fmt.Sprintf("Warnings:\n  - %s", strings.Join(e.Warnings, "\n  - ")))
	}

	return fmt.Sprintf("configuration validation failed:\n%s", strings.Join(parts, "\n"))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// HasWarnings returns true if there are validation warnings.
func (e *ValidationError) HasWarnings() bool {
	return len(e.Warnings) > 0
}

// Addf adds a formatted error to the validation error.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Warnf adds a formatted warning to the validation error.
func (e *ValidationError) Warnf(format string, args ...any) {
	e.Warnings = append(e.Warnings, fmt.Sprintf(format, args...))
}

// Validator validates configuration.
type Validator struct {
	errors *ValidationError
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: &ValidationError{},
	}
}

// Warnings returns the warnings collected by the last Validate call.
func (v *Validator) Warnings() []string {
	return v.errors.Warnings
}

// Validate validates the configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateRepository(cfg.Repository)
	v.validateTarget("targets.staging", cfg.Targets.Staging)
	v.validateTarget("targets.production", cfg.Targets.Production)
	v.validateTargetPair(cfg.Targets)
	v.validateLock(cfg.Lock)
	v.validateAudit(cfg.Audit)
	v.validateSupervisor(cfg.Supervisor)
	v.validatePipeline(cfg.Pipeline)
	v.validateIdentity(cfg.Identity)
	v.validateOutput(cfg.Output)

	if v.errors.HasErrors() {
		return sderrors.Validation("config.Validate", v.errors.Error())
	}

	return nil
}

func (v *Validator) validateRepository(cfg RepositoryConfig) {
	if cfg.Remote == "" {
		v.errors.Addf("repository.remote: required")
	}
	if cfg.Branch == "" {
		v.errors.Addf("repository.branch: required")
	}
	if cfg.FetchAttempts < 1 {
		v.errors.Addf("repository.fetch_attempts: must be at least 1, got %d", cfg.FetchAttempts)
	}
	if cfg.FetchBackoff < 0 {
		v.errors.Addf("repository.fetch_backoff: must not be negative")
	}

	validAuth := []string{"", "auto", "token", "ssh", "basic"}
	if !slices.Contains(validAuth, cfg.Auth.Type) {
		v.errors.Addf("repository.auth.type: must be one of %v, got %q", validAuth[1:], cfg.Auth.Type)
	}
	switch cfg.Auth.Type {
	case "token":
		if cfg.Auth.Token == "" {
			v.errors.Addf("repository.auth.token: required when auth type is token")
		}
	case "basic":
		if cfg.Auth.Username == "" {
			v.errors.Addf("repository.auth.username: required when auth type is basic")
		}
	case "ssh":
		if cfg.Auth.SSHKeyPath == "" {
			v.errors.Addf("repository.auth.ssh_key_path: required when auth type is ssh")
		}
	}
	if cfg.Auth.Token != "" && !strings.HasPrefix(cfg.Auth.Token, "${") && !strings.HasPrefix(cfg.Auth.Token, "$") {
		v.errors.Warnf("repository.auth.token: consider using an environment variable (${GIT_TOKEN}) instead of a literal token")
	}
}

func (v *Validator) validateTarget(key string, cfg TargetConfig) {
	if cfg.DeployPath == "" {
		v.errors.Addf("%s.deploy_path: required", key)
	} else if !filepath.IsAbs(cfg.DeployPath) {
		v.errors.Addf("%s.deploy_path: must be absolute, got %q", key, cfg.DeployPath)
	}
	if cfg.ConfigName == "" {
		v.errors.Addf("%s.config_name: required", key)
	} else if strings.ContainsRune(cfg.ConfigName, filepath.Separator) {
		v.errors.Addf("%s.config_name: must be a file name, got %q", key, cfg.ConfigName)
	}
	if cfg.SocketPath == "" {
		v.errors.Addf("%s.socket_path: required", key)
	}
	if cfg.ServiceConfig == "" {
		v.errors.Addf("%s.service_config: required", key)
	} else if filepath.IsAbs(cfg.ServiceConfig) {
		v.errors.Addf("%s.service_config: must be relative to deploy_path, got %q", key, cfg.ServiceConfig)
	}
}

func (v *Validator) validateTargetPair(cfg TargetsConfig) {
	if cfg.Production.URLPrefix != "" {
		v.errors.Addf("targets.production.url_prefix: must be empty, got %q", cfg.Production.URLPrefix)
	}
	if !strings.HasPrefix(cfg.Staging.URLPrefix, "/") {
		v.errors.Addf("targets.staging.url_prefix: must start with '/', got %q", cfg.Staging.URLPrefix)
	}
	if cfg.Staging.DeployPath != "" && filepath.Clean(cfg.Staging.DeployPath) == filepath.Clean(cfg.Production.DeployPath) {
		v.errors.Addf("targets: staging and production must use distinct deploy paths")
	}
	if cfg.Staging.ConfigName != "" && cfg.Staging.ConfigName == cfg.Production.ConfigName {
		v.errors.Addf("targets: staging and production must use distinct config names")
	}
	if cfg.Staging.SocketPath != "" && cfg.Staging.SocketPath == cfg.Production.SocketPath {
		v.errors.Addf("targets: staging and production must use distinct socket paths")
	}
}

func (v *Validator) validateLock(cfg LockConfig) {
	if cfg.Path == "" {
		v.errors.Addf("lock.path: required")
	}
	if cfg.SignaturePath == "" {
		v.errors.Addf("lock.signature_path: required")
	}
	if cfg.Path != "" && cfg.Path == cfg.SignaturePath {
		v.errors.Addf("lock: path and signature_path must differ")
	}
}

func (v *Validator) validateAudit(cfg AuditConfig) {
	if cfg.Path == "" {
		v.errors.Addf("audit.path: required")
	}
}

func (v *Validator) validateSupervisor(cfg SupervisorConfig) {
	if cfg.AvailableDir == "" {
		v.errors.Addf("supervisor.available_dir: required")
	}
	if cfg.EnabledDir == "" {
		v.errors.Addf("supervisor.enabled_dir: required")
	}
	if cfg.AvailableDir != "" && filepath.Clean(cfg.AvailableDir) == filepath.Clean(cfg.EnabledDir) {
		v.errors.Addf("supervisor: available_dir and enabled_dir must differ")
	}
}

func (v *Validator) validatePipeline(cfg PipelineConfig) {
	if cfg.StepTimeout < 0 {
		v.errors.Addf("pipeline.step_timeout: must not be negative, got %v", cfg.StepTimeout)
	}
	if cfg.StepTimeout == 0 {
		v.errors.Warnf("pipeline.step_timeout: steps run without a timeout")
	}
	// static_root is cleared on every deploy, so it must name a proper
	// subdirectory of the working copy.
	if cfg.StaticRoot == "" {
		v.errors.Addf("pipeline.static_root: required")
	} else if !strictlyInside(cfg.StaticRoot) {
		v.errors.Addf("pipeline.static_root: must name a subdirectory of the deploy path, got %q", cfg.StaticRoot)
	}
	if cfg.LocalSettings == "" {
		v.errors.Addf("pipeline.local_settings: required")
	} else if !strictlyInside(cfg.LocalSettings) {
		v.errors.Addf("pipeline.local_settings: must name a file inside the deploy path, got %q", cfg.LocalSettings)
	}
	for _, dir := range cfg.Directories {
		if !filepath.IsLocal(dir) {
			v.errors.Addf("pipeline.directories: %q must stay inside the deploy path", dir)
		}
	}
	if len(cfg.UpdateSchema) == 0 {
		v.errors.Warnf("pipeline.update_schema: empty, schema updates will be skipped")
	}
	if len(cfg.CollectStatic) == 0 {
		v.errors.Warnf("pipeline.collect_static: empty, static assets will not be collected")
	}
}

// strictlyInside reports whether p is relative, stays within its base and
// names neither the base itself nor its git metadata.
func strictlyInside(p string) bool {
	if !filepath.IsLocal(p) {
		return false
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(clean), "/")
	return first != ".git"
}

func (v *Validator) validateIdentity(cfg IdentityConfig) {
	if cfg.OperatorEnv == "" {
		v.errors.Addf("identity.operator_env: required")
	}
	if cfg.Superuser == "" {
		v.errors.Addf("identity.superuser: required")
	}
	if cfg.ServiceAccount != "" && cfg.ServiceAccount == cfg.Superuser {
		v.errors.Addf("identity.service_account: must not be the superuser")
	}
	if cfg.ServiceAccount != "" && cfg.SudoPath == "" {
		v.errors.Addf("identity.sudo_path: required when service_account is set")
	}
}

func (v *Validator) validateOutput(cfg OutputConfig) {
	validFormats := []string{"text", "json"}
	if !slices.Contains(validFormats, cfg.Format) {
		v.errors.Addf("output.format: must be one of %v, got %q", validFormats, cfg.Format)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, cfg.LogLevel) {
		v.errors.Addf("output.log_level: must be one of %v, got %q", validLogLevels, cfg.LogLevel)
	}

	if cfg.LogFile != "" {
		dir := filepath.Dir(cfg.LogFile)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				v.errors.Addf("output.log_file: directory does not exist: %s", dir)
			}
		}
	}
}

// Validate is a convenience function to validate configuration.
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
