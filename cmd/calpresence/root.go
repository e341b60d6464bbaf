package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"calpresence/internal/config"
	appLog "calpresence/internal/log"
)

var configPath string

// rootCmd represents the base command for calpresence.
var rootCmd = &cobra.Command{
	Use:   "calpresence",
	Short: "Derives device presence from today's events in an ICS calendar feed",
	Long: `calpresence polls an ICS calendar feed, keeps a snapshot of today's
events and reports a configured device as present whenever one of those
events mentions it.

It can run as:
  - A long-running daemon publishing presence to MQTT or SNS (run)
  - A one-shot check printing today's events and presence (once)`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			appLog.Debug(fmt.Sprintf(format, args...))
		})); err != nil {
			return fmt.Errorf("error setting GOMAXPROCS: %w", err)
		}
		return nil
	},
}

func execute() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "calpresence version %s\n" .Version}}`)

	// Running with no subcommand starts the daemon.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "run")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to config file")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newOnceCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadConfig reads the config file and applies logging settings from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	appLog.SetFormat(cfg.LogFormat)
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "calpresence version %s\n", version)
		},
	}
}
