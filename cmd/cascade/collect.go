package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/cascade/internal/analytics"
	"github.com/jonathan/cascade/internal/scheduler"
)

var (
	collectConfigPath  string
	collectRecordingID string
	collectYouTubeKey  string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fold published-clip engagement back into the scheduler",
	Long:  `Fetches view and engagement counters for a recording's published clips, converts them to rewards, and updates the bandit arms and fusion weights. Safe to run repeatedly; updates are commutative.`,
	RunE:  runCollect,
}

func init() {
	collectCmd.Flags().StringVar(&collectConfigPath, "config", "", "Path to config.json file")
	collectCmd.Flags().StringVarP(&collectRecordingID, "recording", "r", "", "Recording whose published clips to collect (required)")
	collectCmd.Flags().StringVar(&collectYouTubeKey, "youtube-api-key", "", "YouTube Data API key (defaults to YOUTUBE_API_KEY env var)")
	_ = collectCmd.MarkFlagRequired("recording")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(collectConfigPath)
	if err != nil {
		return err
	}

	apiKey := collectYouTubeKey
	if apiKey == "" {
		apiKey = os.Getenv("YOUTUBE_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("YOUTUBE_API_KEY environment variable or --youtube-api-key flag is required")
	}

	st, closeStore, err := openStore(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	source, err := analytics.NewYouTubeSource(ctx, apiKey)
	if err != nil {
		return err
	}

	collector := analytics.NewCollector(st, source, scheduler.New(st, cfg.PublishHours))
	report, err := collector.Collect(ctx, collectRecordingID)
	if err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}

	fmt.Printf("Collected stats for %d clip(s)\n", len(report.Clips))
	for _, clip := range report.Clips {
		fmt.Printf("  %s on %s: %d views, reward %.3f\n", clip.ClipID, clip.Platform, clip.Stats.Views, clip.Reward)
	}
	if report.WeightsUpdated {
		fmt.Println("Fusion weights updated:")
		for name, w := range report.Weights {
			fmt.Printf("  %-18s %.3f\n", name, w)
		}
	}
	return nil
}
