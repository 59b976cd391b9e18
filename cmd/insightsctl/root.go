package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alem-hub/lesson-insights/config"
	"github.com/alem-hub/lesson-insights/internal/app"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

var (
	configFile string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "insightsctl",
	Short: "Operate the lesson insights service",
	Long: `insightsctl runs schema migrations, inspects lesson priorities and
triggers the improvement passes on demand.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("INSIGHTS_CONFIG_FILE"), "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(prioritiesCmd)
	rootCmd.AddCommand(openIssuesCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(flagsCmd)
}

// loadConfig reads configuration; dryRun forces the in-memory tracker.
func loadConfig(dryRun bool) (*config.Config, error) {
	if dryRun {
		if err := os.Setenv(config.EnvPrefix+"_TRACKER_DRY_RUN", "true"); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *logger.Logger {
	opts := app.LoggerOptions(cfg)
	opts.Output = w
	opts.Format = "console"
	opts.AddCaller = false
	if verbose {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts)
}

// withContainer loads config, wires a container, runs fn and closes it.
func withContainer(cmd *cobra.Command, dryRun, migrate bool, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := loadConfig(dryRun)
	if err != nil {
		return err
	}
	log := newLogger(cfg, cmd.ErrOrStderr())
	defer func() { _ = log.Sync() }()

	c, err := app.New(cmd.Context(), cfg, log, migrate)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(cmd.Context(), c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
