package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weirdtangent/pulse-os/internal/assistant"
	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voice assistant daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("failed to load config", err)
			return err
		}

		logging.SetDefaults(cfg.General.LogLevel, cfg.General.LogFormat)

		app, err := assistant.New(cfg)
		if err != nil {
			printError("failed to initialize daemon", err)
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return app.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
