package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/cascade/internal/config"
	"github.com/jonathan/cascade/internal/llm"
	"github.com/jonathan/cascade/internal/media"
	"github.com/jonathan/cascade/internal/observability"
	"github.com/jonathan/cascade/internal/pipeline"
	"github.com/jonathan/cascade/internal/publisher"
	"github.com/jonathan/cascade/internal/stage"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline on a recording",
	Long: `Runs the stage graph end-to-end: ingest -> stitch -> segmentation -> transcription -> clip mining -> scoring -> rendering -> metadata -> QA -> scheduling.

Pass --source to register a new recording, or --recording to re-run an existing one. Stages whose inputs are unchanged since their last run are skipped.`,
	RunE: runPipelineCmd,
}

var (
	runConfigPath   string
	runSource       string
	runRecordingID  string
	runName         string
	runDescription  string
	runStages       []string
	runForce        []string
	runAPIKey       string
	runWhisperModel string
	runWhisperBin   string
	runLanguage     string
	runCredentials  string
	runVerbose      bool
)

func init() {
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().StringVarP(&runSource, "source", "s", "", "Recording file or directory of parts (registers a new recording)")
	runCommand.Flags().StringVarP(&runRecordingID, "recording", "r", "", "Existing recording ID to run (mutually exclusive with --source)")
	runCommand.Flags().StringVarP(&runName, "name", "n", "", "Episode name")
	runCommand.Flags().StringVar(&runDescription, "description", "", "Episode description")
	runCommand.Flags().StringSliceVar(&runStages, "stages", nil, "Stage subset to run (default: full graph)")
	runCommand.Flags().StringSliceVar(&runForce, "force", nil, "Stages to re-run even when their inputs are unchanged")

	runCommand.Flags().StringVar(&runAPIKey, "api-key", "", "Gemini API key (optional, defaults to GEMINI_API_KEY env var)")
	runCommand.Flags().StringVar(&runWhisperModel, "whisper-model", "", "Path to whisper.cpp ggml model (defaults to WHISPER_MODEL env var)")
	runCommand.Flags().StringVar(&runWhisperBin, "whisper-bin", "", "whisper.cpp executable (default: whisper-cli on PATH)")
	runCommand.Flags().StringVar(&runLanguage, "language", "", "Transcription language hint (default: auto-detect)")
	runCommand.Flags().StringVar(&runCredentials, "youtube-credentials", "", "OAuth credentials file for uploads (optional; publish is skipped without it)")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print stage lifecycle events")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = runAPIKey
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = runVerbose
	}

	if runSource == "" && runRecordingID == "" {
		return fmt.Errorf("either --source or --recording must be provided")
	}
	if runSource != "" && runRecordingID != "" {
		return fmt.Errorf("--source and --recording are mutually exclusive; provide only one")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}

	st, closeStore, err := openStore(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	recID := runRecordingID
	if runSource != "" {
		rec := &types.Recording{
			ID:          uuid.New().String(),
			Status:      types.StatusQueued,
			SourcePath:  runSource,
			Name:        runName,
			Description: runDescription,
			CreatedAt:   time.Now(),
		}
		if err := st.CreateRecording(ctx, rec); err != nil {
			return fmt.Errorf("failed to create recording: %w", err)
		}
		recID = rec.ID
		fmt.Printf("Registered recording %s\n", recID)
	}

	collab, closeCollab, err := buildCollaborators(ctx, &cfg)
	if err != nil {
		return err
	}
	defer closeCollab()

	exec := pipeline.NewExecutor(st, stage.NewRegistry(), &cfg, collab, pipeline.WithWorkers(cfg.Workers))

	opts := pipeline.RunOptions{Stages: runStages, Force: runForce}
	if cfg.Verbose {
		opts.OnProgress = printProgress
	}

	result, err := exec.Run(ctx, recID, opts)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	printSummary(ctx, st, recID, result)

	switch result.Status {
	case types.StatusError:
		return fmt.Errorf("pipeline finished with errors")
	case types.StatusAwaitingInput:
		fmt.Println("Pipeline is waiting for a crop config; supply one and re-run.")
	}
	return nil
}

// buildCollaborators wires the external services the stages call. The
// transcriber and uploader are optional; stages degrade without them.
func buildCollaborators(ctx context.Context, cfg *config.Config) (pipeline.Collaborators, func(), error) {
	collab := pipeline.Collaborators{Media: &media.FFmpeg{}}

	client, err := llm.NewGeminiClient(ctx, llm.DefaultConfig(), cfg.APIKey)
	if err != nil {
		return collab, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	collab.LLM = client

	model := runWhisperModel
	if model == "" {
		model = os.Getenv("WHISPER_MODEL")
	}
	if model != "" {
		collab.Transcriber = &media.Whisper{
			BinPath:   runWhisperBin,
			ModelPath: model,
			Language:  runLanguage,
		}
	}

	if runCredentials != "" {
		up, err := publisher.NewYouTube(ctx, runCredentials)
		if err != nil {
			client.Close() //nolint:errcheck
			return collab, nil, err
		}
		collab.Uploader = up
	}

	return collab, func() { client.Close() }, nil //nolint:errcheck
}

func printProgress(ev pipeline.ProgressEvent) {
	switch ev.Category {
	case pipeline.CategoryStageComplete:
		fmt.Printf("  [%s] done in %.1fs\n", ev.Stage, ev.ElapsedSec)
	case pipeline.CategoryStageSkipped:
		fmt.Printf("  [%s] fresh, skipped\n", ev.Stage)
	default:
		fmt.Printf("  [%s] %s\n", ev.Stage, ev.Message)
	}
}

// printSummary renders the committed artifacts that survived the run.
func printSummary(ctx context.Context, st store.Store, recID string, result *pipeline.Result) {
	printer := observability.NewPrinter(os.Stdout)

	rec, err := st.GetRecording(ctx, recID)
	if err == nil {
		printer.PrintRecording(rec)
	}
	if segments, err := store.GetSegments(ctx, st, recID); err == nil {
		printer.PrintSegments(segments)
	}
	if clips, err := store.GetClips(ctx, st, recID, store.ArtifactScoredClips); err == nil {
		printer.PrintClips(clips)
	}
	var sched struct {
		Slots []types.Slot `json:"slots"`
	}
	if _, err := store.GetJSON(ctx, st, recID, store.ArtifactSchedule, &sched); err == nil {
		printer.PrintSchedule(sched.Slots)
	}

	fmt.Printf("Ran %d stage(s), skipped %d, status: %s\n", len(result.Ran), len(result.Skipped), result.Status)
	for name, msg := range result.Failed {
		fmt.Printf("  failed %s: %s\n", name, msg)
	}
}
