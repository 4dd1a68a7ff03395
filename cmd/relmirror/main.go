// Package main implements the relmirror command-line tool for mirroring
// GitHub releases to Gitee.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/relmirror/internal/mirror"
)

const (
	defaultConfigPath = "/etc/relmirror/relmirror.toml"
)

// knownSections are the top-level tables of the configuration file.
var knownSections = []string{"log", "source", "mirror", "stable", "transfer"}

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "relmirror",
	Short: "Mirror the latest stable GitHub release to Gitee",
	Long: `relmirror copies the newest stable release of a GitHub repository,
including every asset, to a Gitee repository and removes every other
release from the Gitee repository.`,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the latest stable release",
	Long: `Finds the latest stable GitHub release and mirrors it to Gitee.

Usage:
  # Mirror with the default configuration file
  relmirror sync

  # Use a custom configuration file
  relmirror sync --config /path/to/relmirror.toml

  # Show what would change on Gitee without changing it
  relmirror sync --dry-run

  # Render download progress bars
  relmirror sync --progress

The Gitee access token is read from the environment variable named by
mirror.token_env (GITEE_TOKEN by default).`,
	Args: cobra.NoArgs,
	Run:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare the latest stable release with the mirror",
	Args:  cobra.NoArgs,
	Run:   runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("relmirror %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")

	syncCmd.Flags().Bool("dry-run", false, "look up releases but do not change the mirror")
	syncCmd.Flags().Bool("progress", false, "render download progress bars on stderr")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}
	return err.Error()
}

// analyzeUndecoded examines undecoded TOML keys and suggests the section
// that was probably meant.
func analyzeUndecoded(undecoded []toml.Key) (suggestions []string, unknown []string) {
	groups := make(map[string]int)
	corrections := make(map[string]string)

	for _, key := range undecoded {
		if len(key) == 0 {
			continue
		}
		root := key[0]
		if fixed := suggestSection(root); fixed != "" {
			groups[root]++
			corrections[root] = fixed
			continue
		}
		unknown = append(unknown, key.String())
	}

	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	for _, root := range roots {
		if groups[root] == 1 {
			suggestions = append(suggestions, fmt.Sprintf("Section '%s' should be '%s'", root, corrections[root]))
		} else {
			suggestions = append(suggestions, fmt.Sprintf("Section '%s' should be '%s' (affects %d keys)", root, corrections[root], groups[root]))
		}
	}
	return suggestions, unknown
}

// suggestSection returns the known section that differs from name only by
// case or a trailing "s", or "" when there is none.
func suggestSection(name string) string {
	for _, known := range knownSections {
		if name == known {
			return ""
		}
	}
	for _, known := range knownSections {
		switch {
		case strings.EqualFold(name, known):
			return known
		case strings.EqualFold(strings.TrimSuffix(name, "s"), known):
			return known
		}
	}
	return ""
}

// formatUndecodedError builds a user-friendly error message for undecoded TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	suggestions, unknown := analyzeUndecoded(undecoded)

	var errorMsg strings.Builder
	if len(suggestions) > 0 {
		errorMsg.WriteString("configuration contains sections that don't match expected structure:\n")
		for _, suggestion := range suggestions {
			errorMsg.WriteString("  • " + suggestion + "\n")
		}
		errorMsg.WriteString("\nNote: Configuration section names are case-sensitive and must match exactly.")
	}

	if len(unknown) > 0 {
		if errorMsg.Len() > 0 {
			errorMsg.WriteString("\n\nAdditionally, found unknown keys: ")
		} else {
			errorMsg.WriteString("configuration contains unknown keys: ")
		}
		errorMsg.WriteString(fmt.Sprintf("%v", unknown))
		errorMsg.WriteString("\nThese keys don't match any expected configuration structure.")
	}

	return errorMsg.String()
}

// loadConfig reads path into a default configuration. A missing file at
// the default location leaves the defaults in place.
func loadConfig(path string, explicit bool) (*mirror.Config, error) {
	config := mirror.NewConfig()
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			slog.Debug("configuration file not found, using defaults", "path", path)
			return config, nil
		}
		return nil, errors.Wrap(err, "failed to decode config file "+path)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("configuration validation failed: %s", formatUndecodedError(undecoded))
	}
	return config, nil
}

// setup loads the configuration and applies logging flags.
func setup(cmd *cobra.Command) (*mirror.Config, bool) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	if err := config.Log.Apply(); err != nil {
		slog.Error("failed to apply log config", "error", err)
		os.Exit(1)
	}

	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply command-line log level", "level", logLevel, "error", err)
			os.Exit(1)
		}
		slog.Debug("log level successfully overridden from command line", "level", logLevel)
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply quiet log level", "error", err)
			os.Exit(1)
		}
	}
	return config, verboseErrors
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSync(cmd *cobra.Command, _ []string) {
	config, verboseErrors := setup(cmd)

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	progress, _ := cmd.Flags().GetBool("progress")

	ctx, stop := signalContext()
	defer stop()

	result, err := mirror.Run(ctx, config, mirror.RunOptions{
		DryRun:       dryRun,
		ShowProgress: progress,
	})
	if err != nil {
		slog.Error("sync failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		stop()
		os.Exit(1)
	}

	if dryRun {
		fmt.Printf("Dry run: %s", result.Outcome)
		if result.Tag != "" {
			fmt.Printf(" %s", result.Tag)
		}
		fmt.Println()
		for _, tag := range result.Pruned {
			fmt.Printf("  would delete %s\n", tag)
		}
	}
}

func runStatus(cmd *cobra.Command, _ []string) {
	config, verboseErrors := setup(cmd)

	ctx, stop := signalContext()
	defer stop()

	report, err := mirror.Status(ctx, config)
	if err != nil {
		slog.Error("status failed", "error", formatError(err, verboseErrors))
		stop()
		os.Exit(1)
	}

	if report.Latest == nil {
		fmt.Printf("GitHub %s: no stable release\n", config.Source.Repo)
	} else {
		fmt.Printf("GitHub %s: %s (%s)\n", config.Source.Repo, report.Latest.TagName, report.Latest.Name)
	}

	fmt.Printf("Gitee %s:\n", config.Mirror.Repo)
	if len(report.Mirror) == 0 {
		fmt.Println("  No releases")
	}
	for _, r := range report.Mirror {
		state := "synced"
		if r.Syncing {
			state = "syncing"
		}
		fmt.Printf("  - %s (%s)\n", r.Tag, state)
	}

	if report.InSync() {
		fmt.Println("Mirror is up to date.")
	} else {
		fmt.Println("Mirror is out of date.")
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	var validationErrors []error

	if err := config.Log.Apply(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "log config"))
	}
	if err := config.Check(); err != nil {
		validationErrors = append(validationErrors, err)
	}
	if config.Mirror.TokenEnv != "" && config.Mirror.Token() == "" {
		validationErrors = append(validationErrors, errors.Newf("mirror token is empty: set %s", config.Mirror.TokenEnv))
	}

	if len(validationErrors) > 0 {
		slog.Error("the toml configuration file is not valid")
		for _, err := range validationErrors {
			slog.Error(err.Error())
		}
		os.Exit(1)
	}

	slog.Info("the toml configuration file passes validation checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
