// Command speedcam measures vehicle speeds from a camera stream and serves
// the dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/speedcam/internal/config"
	"github.com/banshee-data/speedcam/internal/monitoring"
	"github.com/banshee-data/speedcam/internal/version"
)

var log = monitoring.Component("main")

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "speedcam",
		Short:         "Camera based vehicle speed measurement",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML, TOML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override logging.level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Override logging.format (text, json)")

	rootCmd.AddCommand(
		serveCommand(&flags),
		migrateCommand(&flags),
		eventsCommand(&flags),
		tombstoneCommand(&flags),
		cleanupCommand(&flags),
		versionCommand(),
	)
	return rootCmd
}

// loadConfig reads the config file and installs the process logger. Only
// serve validates the camera settings.
func loadConfig(flags *globalFlags, validate bool) (*config.Config, error) {
	load := config.Read
	if validate {
		load = config.Load
	}
	cfg, err := load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	monitoring.SetLogger(monitoring.NewLogger(os.Stderr, cfg.Logging.Format, cfg.Logging.Level))
	return cfg, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
