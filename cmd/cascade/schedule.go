package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/cascade/internal/observability"
	"github.com/jonathan/cascade/internal/scheduler"
)

var (
	scheduleConfigPath  string
	schedulePlatform    string
	scheduleContentType string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the learned best publishing schedule",
	Long:  `Prints one week of posting slots ranked by posterior mean engagement, under the configured per-day cadence caps. Read-only; arm beliefs are not touched.`,
	RunE:  runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleConfigPath, "config", "", "Path to config.json file")
	scheduleCmd.Flags().StringVarP(&schedulePlatform, "platform", "p", "youtube", "Target platform")
	scheduleCmd.Flags().StringVar(&scheduleContentType, "content-type", "short", "Content type the slots are for")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(scheduleConfigPath)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	bandit := scheduler.New(st, cfg.PublishHours)
	cadence := scheduler.Cadence(cfg.CadenceByWeekday())
	if len(cadence) == 0 {
		cadence = scheduler.DefaultCadence()
	}

	slots, err := bandit.BestSchedule(ctx, schedulePlatform, scheduleContentType, cadence)
	if err != nil {
		return fmt.Errorf("failed to compute schedule: %w", err)
	}

	observability.NewPrinter(os.Stdout).PrintSchedule(slots)
	return nil
}
