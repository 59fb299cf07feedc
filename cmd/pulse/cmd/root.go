package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weirdtangent/pulse-os/pkg/core/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Pulse - local voice assistant daemon",
	Long: `Pulse is a local voice assistant daemon. It listens for wake words,
routes conversations to a local or remote pipeline, and manages alarms,
timers and reminders with audible playback.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads the configured (or default) configuration, with the
// verbose flag forcing debug logging
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if verbose {
		cfg.General.LogLevel = "debug"
	}
	return cfg, nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
