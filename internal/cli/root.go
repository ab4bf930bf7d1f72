// Package cli provides the command-line interface for sitedeploy.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/relicta-tech/sitedeploy/internal/config"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/lock"
	"github.com/relicta-tech/sitedeploy/internal/security"
)

var (
	// Version information set by main.
	versionInfo struct {
		Version string
		Commit  string
		Date    string
	}

	// Global flags
	cfgFile     string
	verbose     bool
	outputJSON  bool
	noColor     bool
	logLevel    string
	releaseMode bool

	// Global config
	cfg *config.Config

	// Logger
	logger *log.Logger

	// logFile holds the log file handle for cleanup
	logFile *os.File

	// Styles
	styles = struct {
		Title   lipgloss.Style
		Success lipgloss.Style
		Error   lipgloss.Style
		Warning lipgloss.Style
		Info    lipgloss.Style
		Subtle  lipgloss.Style
		Bold    lipgloss.Style
	}{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
		Subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Bold:    lipgloss.NewStyle().Bold(true),
	}
)

// SetVersionInfo sets the version information from main.
func SetVersionInfo(version, commit, date string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.Date = date
}

// rootCmd deploys when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "sitedeploy [--release]",
	Short: "Single-flight deployment of the site",
	Long: `sitedeploy deploys the site from its git working copy.

Without flags the staging target is deployed from the tip of the mainline,
described relative to the latest tag. With --release the production target
is deployed from the latest tag.

Only one deploy runs at a time. A second operator gets an immediate error
naming the current holder instead of waiting.`,
	Args:              noPositionalArgs,
	PersistentPreRunE: preRun,
	RunE:              runDeploy,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with a context for graceful shutdown.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// JSON format and log level are configured in initConfig based on flags
	logger = log.NewWithOptions(security.NewRedactingWriter(os.Stderr), log.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
	})

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: sitedeploy.yaml in . or /etc/sitedeploy)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&releaseMode, "release", false, "deploy the latest tag to production")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return sderrors.Usage("cli", err.Error())
	})

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}

// noPositionalArgs rejects any argument other than flags.
func noPositionalArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return sderrors.Usage("cli", fmt.Sprintf("unexpected argument %q", args[0]))
	}
	return nil
}

func preRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}
	return initConfig(cmd)
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig() error {
	loader := config.NewLoader()

	if cfgFile != "" {
		loader.WithConfigPath(cfgFile)
	}

	loaded, err := loader.Load()
	if err != nil {
		return err
	}

	validator := config.NewValidator()
	if err := validator.Validate(loaded); err != nil {
		return err
	}
	for _, w := range validator.Warnings() {
		logger.Warn("config", "warning", w)
	}

	cfg = loaded
	return nil
}

// applyGlobalFlags applies global CLI flags to the configuration.
func applyGlobalFlags() {
	if verbose {
		cfg.Output.Verbose = true
	}
	if noColor {
		cfg.Output.Color = false
	}
	if !cfg.Output.Color {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// configureLoggerFormat configures the logger format based on settings.
func configureLoggerFormat() {
	if outputJSON || cfg.Output.Format == "json" {
		logger.SetFormatter(log.JSONFormatter)
		logger.SetReportTimestamp(true)
		logger.SetReportCaller(true)
	} else {
		logger.SetFormatter(log.TextFormatter)
	}
}

// configureLogLevel sets the logger level based on configuration. An
// explicit --log-level on cmd wins over the config file.
func configureLogLevel(cmd *cobra.Command) {
	level := cfg.Output.LogLevel
	if cmd != nil && cmd.Flags().Changed("log-level") {
		level = logLevel
	}
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	if cfg.Output.Verbose {
		logger.SetLevel(log.DebugLevel)
	}
}

// configureLogFile sets up log file output if specified.
func configureLogFile() error {
	if cfg.Output.LogFile == "" {
		return nil
	}

	var err error
	logFile, err = os.OpenFile(cfg.Output.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return sderrors.IOWrap(err, "cli.configureLogFile", "failed to open log file")
	}
	logger.SetOutput(security.NewRedactingWriter(logFile))
	return nil
}

// initConfig reads in config file and ENV variables if set.
func initConfig(cmd *cobra.Command) error {
	if err := loadAndValidateConfig(); err != nil {
		return err
	}

	applyGlobalFlags()

	configureLoggerFormat()
	configureLogLevel(cmd)

	return configureLogFile()
}

// Cleanup releases any deploy lock still held and closes open resources.
// main calls it on every exit path, including forced exits.
func Cleanup() {
	if err := lock.ReleaseHeld(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("✗ failed to release deploy lock: "+err.Error()))
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  noPositionalArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sitedeploy %s\n", versionInfo.Version)
		if verbose {
			fmt.Fprintf(out, "  commit: %s\n", versionInfo.Commit)
			fmt.Fprintf(out, "  built:  %s\n", versionInfo.Date)
		}
	},
}

// Helper functions for output

func printSuccess(msg string) {
	fmt.Println(styles.Success.Render("✓ " + msg))
}

func printError(msg string) {
	fmt.Fprintln(os.Stderr, styles.Error.Render("✗ "+msg))
}

func printWarning(msg string) {
	fmt.Fprintln(os.Stderr, styles.Warning.Render("⚠ "+msg))
}

func printInfo(msg string) {
	fmt.Println(styles.Info.Render("ℹ " + msg))
}

func printTitle(msg string) {
	fmt.Println(styles.Title.Render(msg))
}

func printSubtle(msg string) {
	fmt.Println(styles.Subtle.Render(msg))
}
