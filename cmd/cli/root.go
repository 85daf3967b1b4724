// Package cli provides the command-line interface for scanconsole.
// It implements the Cobra command tree for session management, scan
// submission, scheduled scans and the local console server.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/scanconsole/internal/config"
	"github.com/anstrom/scanconsole/internal/logging"
)

const envPrefix = "SCANCONSOLE"

var (
	cfgFile    string
	verbose    bool
	backendURL string
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scanconsole",
	Short: "Operator client for the scanning backend",
	Long: `scanconsole drives a remote scanning backend. It keeps your session,
submits port, protocol and OS scans, renders the results and exports
port results as CSV or JSON.

Run 'scanconsole login' first; scan commands require a session.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// Interrupts cancel the command context so long-running commands shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "backend base URL, e.g. http://localhost:5000/api")

	// Bind flags to viper
	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
	if err := viper.BindPFlag("backend.base_url", rootCmd.PersistentFlags().Lookup("backend")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind backend flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// SCANCONSOLE_BACKEND_BASE_URL overrides backend.base_url, and so on
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// getConfigFilePath returns the config file in effect, or "" for defaults.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.ConfigFileUsed()
}

// overridable lists the settings that flags and environment variables may
// override after the file is loaded.
var overridable = []string{
	"backend.base_url",
	"session.store",
	"session.path",
	"session.dsn",
	"export.dir",
	"publish.nats_url",
	"publish.subject",
	"logging.level",
	"logging.format",
}

// loadConfig loads the config file and applies viper overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, err
	}

	for _, key := range overridable {
		if !viper.IsSet(key) {
			continue
		}
		value := viper.GetString(key)
		if value == "" {
			continue
		}
		applyOverride(cfg, key, value)
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = string(logging.LevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverride(cfg *config.Config, key, value string) {
	switch key {
	case "backend.base_url":
		cfg.Backend.BaseURL = value
	case "session.store":
		cfg.Session.Store = value
	case "session.path":
		cfg.Session.Path = value
	case "session.dsn":
		cfg.Session.DSN = value
	case "export.dir":
		cfg.Export.Dir = value
	case "publish.nats_url":
		cfg.Publish.NATSURL = value
	case "publish.subject":
		cfg.Publish.Subject = value
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.format":
		cfg.Logging.Format = value
	}
}

// initLogging builds the process logger from the configuration.
func initLogging(cfg *config.Config) *logging.Logger {
	logConfig := logging.Config{
		Level:     logging.LogLevel(cfg.Logging.Level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.Level == string(logging.LevelDebug),
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
	return logger
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}
