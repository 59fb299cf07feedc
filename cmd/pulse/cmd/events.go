package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weirdtangent/pulse-os/internal/history"
	"github.com/weirdtangent/pulse-os/internal/schedule"
)

var historyLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect scheduled events and firing history",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the persisted events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("failed to load config", err)
			return err
		}

		events := schedule.NewStore(cfg.Schedule.StorePath).Load()
		if len(events) == 0 {
			fmt.Println("No events scheduled.")
			return nil
		}

		for _, ev := range events {
			label := ev.Label
			if label == "" {
				label = "(unlabeled)"
			}
			fmt.Printf("%-10s %-24s next %s  [%s]\n",
				ev.Type, label, ev.NextFire.Local().Format("Mon 15:04:05"), ev.ID)
		}
		return nil
	},
}

var eventsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent event firings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("failed to load config", err)
			return err
		}

		store, err := history.NewStore(cfg.History.Path)
		if err != nil {
			printError("failed to open history store", err)
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		firings, err := store.Recent(ctx, historyLimit)
		if err != nil {
			printError("failed to read history", err)
			return err
		}
		if len(firings) == 0 {
			fmt.Println("No firings recorded.")
			return nil
		}

		for _, f := range firings {
			line := fmt.Sprintf("%s  %-10s %-8s %s",
				f.At.Local().Format("2006-01-02 15:04:05"), f.EventType, f.State, f.Label)
			if f.Reason != "" {
				line += fmt.Sprintf(" (%s)", f.Reason)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	eventsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows to show")
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsHistoryCmd)
	rootCmd.AddCommand(eventsCmd)
}
