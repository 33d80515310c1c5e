package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cuemby/protect-init/pkg/config"
	"github.com/cuemby/protect-init/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	err := rootCmd.Execute()
	code := exitCodeFor(err)

	var exit *exitError
	if err != nil && !(errors.As(err, &exit) && exit.err == nil) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

var rootCmd = &cobra.Command{
	Use:   "protect-init",
	Short: "ESET PROTECT container entrypoint",
	Long: `protect-init prepares an ESET PROTECT server container and runs the server.

On every start it decides whether the persisted volume holds no install,
an install older than this image, or a current install. It then creates
or upgrades the database through the vendor installer and finally runs
the server in the foreground, relaying termination signals to it.

Settings are read from environment variables (DB_HOSTNAME, ...) and from
Docker secrets under /run/secrets, secrets taking precedence.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runEntrypoint,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"protect-init version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Optional YAML file overriding entrypoint paths and timings")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().String("metrics-addr", "", "Serve /metrics and health endpoints on this address (e.g. :9100)")
	runCmd.Flags().AddFlagSet(rootCmd.Flags())

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "protect-init version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// setup initializes logging and loads the entrypoint configuration
func setup(cmd *cobra.Command) (*config.Config, error) {
	level, _ := cmd.Flags().GetString("log-level")
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && !cmd.Flags().Changed("log-level") {
		level = v
	}
	jsonOutput, _ := cmd.Flags().GetBool("log-json")
	if v, ok := os.LookupEnv("LOG_JSON"); ok && !cmd.Flags().Changed("log-json") {
		jsonOutput, _ = strconv.ParseBool(v)
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(level),
		JSONOutput: jsonOutput,
	})

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("metrics-addr"); f != nil && f.Changed {
		cfg.MetricsAddr = f.Value.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
