package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/dontdude/goscribe/internal/app"
	"github.com/dontdude/goscribe/internal/config"
	"github.com/dontdude/goscribe/internal/domain"
	"github.com/dontdude/goscribe/internal/log"
	"github.com/google/uuid"

	"github.com/spf13/cobra"
)

var (
	cfg config.Config

	flagVerbose bool   // value of --verbose flag
	flagStates  int    // value of --states flag
	flagModel   string // value of --model flag
)

// errBatchFailed reports a failed batch after its result has been printed.
var errBatchFailed = errors.New("batch failed")

func main() {
	// root flags
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging, including progress events")
	runCmd.Flags().IntVar(&flagStates, "states", 0, "number of engine states, overrides NSTATES")
	runCmd.Flags().StringVar(&flagModel, "model", "", "path to the whisper model, overrides MODEL_PATH")

	// never print messages
	rootCmd.SilenceErrors = true

	// load configuration, setup logging
	rootCmd.PersistentPreRunE = initTranscribe

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errBatchFailed) {
			slog.Error("transcribe failed", "err", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "transcribe",
	Short:        "Transcribe audio and video files with whisper",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run FILE...",
	Short: "run transcribes every file as one batch and prints the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of transcribe",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("transcribe: version info not available")
			return
		}
		fmt.Printf("transcribe: %s\n", info.Main.Version)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:       %s\n", s.Value)
			}
		}
	},
}

func initTranscribe(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}

	// flags have a precedence over the environment
	if cmd.Flags().Changed("states") {
		cfg.States = flagStates
	}
	if cmd.Flags().Changed("model") {
		cfg.ModelPath = flagModel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// initialize logging
	level := cfg.LogLevel
	if flagVerbose {
		level = "debug"
	}
	return log.Setup("text", level)
}

type output struct {
	BatchID string            `json:"batch_id"`
	Results map[string]string `json:"results,omitempty"`
	File    string            `json:"file,omitempty"`
	Error   string            `json:"error,omitempty"`
	Kind    string            `json:"kind,omitempty"`
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	batchID := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.Group("transcribe",
		slog.String("batch", batchID),
		slog.Int("pid", os.Getpid()),
	))

	core, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = core.Close()
	}()

	if flagVerbose {
		events, err := core.Bus.Subscribe(ctx)
		if err != nil {
			return err
		}
		go printEvents(ctx, events, batchID)
	}

	jobs, err := spoolFiles(core, batchID, args)
	defer core.Spool.Remove(jobs...)
	if err != nil {
		return err
	}

	res, err := core.Dispatcher.Dispatch(ctx, jobs)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), batchID, res)
}

// spoolFiles copies every file into the temp dir, so the docker converter can reach it.
// The file argument is the display name of its job.
func spoolFiles(core *app.App, batchID string, files []string) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(files))
	for _, path := range files {
		job, err := spoolFile(core, batchID, path)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func spoolFile(core *app.App, batchID, path string) (domain.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Job{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	return core.Spool.Save(batchID, path, f)
}

func printResult(w io.Writer, batchID string, res domain.BatchResult) error {
	out := output{BatchID: batchID, Results: res.Results}
	if res.Failed() {
		out = output{
			BatchID: batchID,
			File:    res.Failure.Name,
			Error:   res.Failure.Err.Error(),
			Kind:    domain.Kind(res.Failure.Err),
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	if res.Failed() {
		return errBatchFailed
	}
	return nil
}

// printEvents logs the progress of batchID until the subscription ends.
func printEvents(ctx context.Context, events <-chan domain.Event, batchID string) {
	for ev := range events {
		if ev.BatchID != batchID {
			continue
		}
		slog.InfoContext(ctx, "progress", "file", ev.File, "stage", ev.Stage, "error", ev.Error)
	}
}
