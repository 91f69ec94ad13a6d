package main

import (
	"os"

	"github.com/spf13/cobra"
)

// configEnv names the configuration file when --config is not given.
const configEnv = "GRAYLOGIC_CONFIG"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "graylogic-nvr",
		Short:         "UniFi Protect live state service",
		Long:          "Keeps a live, consistent copy of a UniFi Protect console's state and publishes it.",
		Version:       version + " (" + commit + ", " + date + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv(configEnv),
		"YAML configuration file (default $"+configEnv+"; empty uses defaults and environment)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newReplayCommand())
	cmd.AddCommand(newStatsCommand())

	return cmd
}
