package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/cascade/internal/llm"
	"github.com/jonathan/cascade/internal/media"
	"github.com/jonathan/cascade/internal/pipeline"
	"github.com/jonathan/cascade/internal/scheduler"
	"github.com/jonathan/cascade/internal/server"
	"github.com/jonathan/cascade/internal/stage"
)

var (
	serveConfigPath string
	servePort       int
	serveQueueSize  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control-plane HTTP server",
	Long:  `Starts an HTTP server exposing the recording lifecycle, artifact reads, clip review, and scheduler state. Runs execute on a background queue.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().IntVar(&serveQueueSize, "queue-size", 16, "Pending run buffer size")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	st, closeStore, err := openStore(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	client, err := llm.NewGeminiClient(ctx, llm.DefaultConfig(), cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	registry := stage.NewRegistry()
	collab := pipeline.Collaborators{Media: &media.FFmpeg{}, LLM: client}
	exec := pipeline.NewExecutor(st, registry, &cfg, collab, pipeline.WithWorkers(cfg.Workers))

	queue := pipeline.NewQueue(exec, 1, serveQueueSize)
	queue.Start(ctx)

	srv, err := server.New(&cfg, server.Deps{
		Store:    st,
		Registry: registry,
		Exec:     exec,
		Queue:    queue,
		Bandit:   scheduler.New(st, cfg.PublishHours),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
