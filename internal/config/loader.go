package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// Pre-compiled regex patterns for environment variable expansion.
var (
	// envVarPattern matches ${VAR} or ${VAR:-default} syntax
	envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)
	// simpleEnvVarPattern matches $VAR syntax
	simpleEnvVarPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// EnvPrefix is the prefix for environment overrides, e.g. SITEDEPLOY_LOCK_PATH.
const EnvPrefix = "SITEDEPLOY"

// Loader handles configuration loading and merging.
type Loader struct {
	v           *viper.Viper
	configPath  string
	searchPaths []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{
		v:           v,
		searchPaths: append([]string(nil), DefaultSearchPaths...),
	}
}

// WithConfigPath sets an explicit config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithSearchPaths replaces the directories searched for config files.
func (l *Loader) WithSearchPaths(paths ...string) *Loader {
	l.searchPaths = paths
	return l
}

// Load loads the configuration.
func (l *Loader) Load() (*Config, error) {
	const op = "config.Load"

	l.setDefaults()

	if err := l.loadConfigFile(); err != nil {
		return nil, sderrors.ConfigWrap(err, op, "failed to load config file")
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, sderrors.ConfigWrap(err, op, "failed to unmarshal config")
	}

	l.expandEnvVars(cfg)

	return cfg, nil
}

// setDefaults sets default values using Viper.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Repository defaults
	l.v.SetDefault("repository.remote", defaults.Repository.Remote)
	l.v.SetDefault("repository.branch", defaults.Repository.Branch)
	l.v.SetDefault("repository.auth.type", defaults.Repository.Auth.Type)
	l.v.SetDefault("repository.fetch_attempts", defaults.Repository.FetchAttempts)
	l.v.SetDefault("repository.fetch_backoff", defaults.Repository.FetchBackoff)

	// Target defaults
	for name, target := range map[string]TargetConfig{
		"staging":    defaults.Targets.Staging,
		"production": defaults.Targets.Production,
	} {
		prefix := "targets." + name + "."
		l.v.SetDefault(prefix+"deploy_path", target.DeployPath)
		l.v.SetDefault(prefix+"config_name", target.ConfigName)
		l.v.SetDefault(prefix+"socket_path", target.SocketPath)
		l.v.SetDefault(prefix+"url_prefix", target.URLPrefix)
		l.v.SetDefault(prefix+"service_config", target.ServiceConfig)
	}

	// Lock and audit defaults
	l.v.SetDefault("lock.path", defaults.Lock.Path)
	l.v.SetDefault("lock.signature_path", defaults.Lock.SignaturePath)
	l.v.SetDefault("audit.path", defaults.Audit.Path)

	// Supervisor defaults
	l.v.SetDefault("supervisor.available_dir", defaults.Supervisor.AvailableDir)
	l.v.SetDefault("supervisor.enabled_dir", defaults.Supervisor.EnabledDir)

	// Pipeline defaults
	l.v.SetDefault("pipeline.step_timeout", defaults.Pipeline.StepTimeout)
	l.v.SetDefault("pipeline.env", []string{})
	l.v.SetDefault("pipeline.directories", defaults.Pipeline.Directories)
	l.v.SetDefault("pipeline.static_root", defaults.Pipeline.StaticRoot)
	l.v.SetDefault("pipeline.local_settings", defaults.Pipeline.LocalSettings)
	l.v.SetDefault("pipeline.update_schema", defaults.Pipeline.UpdateSchema)
	l.v.SetDefault("pipeline.precompute", []string{})
	l.v.SetDefault("pipeline.collect_static", defaults.Pipeline.CollectStatic)
	l.v.SetDefault("pipeline.compile", defaults.Pipeline.Compile)

	// Identity defaults
	l.v.SetDefault("identity.operator_env", defaults.Identity.OperatorEnv)
	l.v.SetDefault("identity.superuser", defaults.Identity.Superuser)
	l.v.SetDefault("identity.service_account", defaults.Identity.ServiceAccount)
	l.v.SetDefault("identity.sudo_path", defaults.Identity.SudoPath)

	// Metrics defaults
	l.v.SetDefault("metrics.textfile", defaults.Metrics.Textfile)

	// Output defaults
	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.color", defaults.Output.Color)
	l.v.SetDefault("output.verbose", defaults.Output.Verbose)
	l.v.SetDefault("output.log_level", defaults.Output.LogLevel)
}

// loadConfigFile loads the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", l.configPath, err)
		}
		return nil
	}

	configFile, ok := findConfigFile(l.searchPaths)
	if !ok {
		// No config file found - this is OK, we use defaults
		return nil
	}

	l.v.SetConfigFile(configFile)
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", configFile, err)
	}
	return nil
}

func findConfigFile(searchPaths []string) (string, bool) {
	for _, searchPath := range searchPaths {
		for _, name := range ConfigFileNames {
			for _, ext := range ConfigFileExtensions {
				configFile := filepath.Join(searchPath, name+"."+ext)
				if _, err := os.Stat(configFile); err == nil {
					return configFile, true
				}
			}
		}
	}
	return "", false
}

// expandEnvVars expands environment variables in credential and path fields.
func (l *Loader) expandEnvVars(cfg *Config) {
	auth := &cfg.Repository.Auth
	auth.Token = expandEnvVar(auth.Token)
	auth.Username = expandEnvVar(auth.Username)
	auth.Password = expandEnvVar(auth.Password)
	auth.SSHKeyPath = expandEnvVar(auth.SSHKeyPath)
	auth.SSHKeyPassword = expandEnvVar(auth.SSHKeyPassword)

	for _, target := range []*TargetConfig{&cfg.Targets.Staging, &cfg.Targets.Production} {
		target.DeployPath = expandEnvVar(target.DeployPath)
		target.SocketPath = expandEnvVar(target.SocketPath)
	}

	cfg.Lock.Path = expandEnvVar(cfg.Lock.Path)
	cfg.Lock.SignaturePath = expandEnvVar(cfg.Lock.SignaturePath)
	cfg.Audit.Path = expandEnvVar(cfg.Audit.Path)
	cfg.Metrics.Textfile = expandEnvVar(cfg.Metrics.Textfile)
	cfg.Output.LogFile = expandEnvVar(cfg.Output.LogFile)

	for i, pair := range cfg.Pipeline.Env {
		cfg.Pipeline.Env[i] = expandEnvVar(pair)
	}
}

// expandEnvVar expands environment variables in a string.
// Supports both ${VAR} and $VAR syntax.
func expandEnvVar(s string) string {
	if s == "" {
		return s
	}

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}

		varName := submatch[1]
		defaultValue := ""
		if len(submatch) > 2 {
			defaultValue = submatch[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})

	result = simpleEnvVarPattern.ReplaceAllStringFunc(result, func(match string) string {
		if value := os.Getenv(match[1:]); value != "" {
			return value
		}
		return match
	})

	return result
}

// GetConfigPath returns the path to the loaded config file, if any.
func (l *Loader) GetConfigPath() string {
	return l.v.ConfigFileUsed()
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// FindConfigFile searches for a config file and returns its path.
func FindConfigFile(searchPaths ...string) (string, error) {
	if len(searchPaths) == 0 {
		searchPaths = DefaultSearchPaths
	}
	if path, ok := findConfigFile(searchPaths); ok {
		return path, nil
	}
	return "", sderrors.Config("config.FindConfigFile", "no config file found")
}
