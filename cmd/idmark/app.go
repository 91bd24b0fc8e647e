package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"idmark/internal/batch"
	"idmark/internal/config"
	"idmark/internal/deps"
	"idmark/internal/history"
	"idmark/internal/hwcodec"
	"idmark/internal/imaging"
	"idmark/internal/logging"
	"idmark/internal/notifications"
	"idmark/internal/preflight"
	"idmark/internal/services"
	"idmark/internal/supervisor"
	"idmark/internal/transcode"
)

// appRuntime holds the components one batch invocation wires together.
type appRuntime struct {
	orchestrator *batch.Orchestrator
	registry     *supervisor.Registry
	history      *history.Store
}

func (r *appRuntime) Close() {
	if r.history != nil {
		_ = r.history.Close()
	}
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, observer batch.Observer) (*appRuntime, error) {
	registry := supervisor.NewRegistry()
	sup := supervisor.New(
		supervisor.WithRegistry(registry),
		supervisor.WithWatchdogInterval(cfg.WatchdogInterval()),
		supervisor.WithLogger(logger),
	)

	strategies := hwcodec.DefaultStrategies(hwcodec.Tools{
		FFmpeg:    cfg.Tools.FFmpeg,
		NvidiaSMI: cfg.Tools.NvidiaSMI,
	}, nil)
	prober := hwcodec.NewProber(hwcodec.Pin(strategies, cfg.Codec.Preferred), hwcodec.WithLogger(logger))

	transcoder, err := transcode.New(sup, transcode.Options{
		FFmpeg:       cfg.Tools.FFmpeg,
		FFprobe:      deps.ResolveFFprobe(cfg.Tools),
		AudioBitrate: cfg.Encoding.AudioBitrate,
		Margin:       cfg.Encoding.WatermarkMargin,
		Timeout:      cfg.JobTimeout(),
		Logger:       logger,
		Frames:       imaging.FrameCount,
	})
	if err != nil {
		return nil, err
	}

	rt := &appRuntime{registry: registry}
	var recorder batch.HistoryRecorder
	if cfg.History.Enabled {
		store, err := history.Open(ctx, cfg.History.Path, cfg.History.KeepRuns)
		if err != nil {
			logging.WarnWithContext(logger, "run history unavailable", "history_open",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this run will not be recorded"),
				logging.String(logging.FieldErrorHint, "check history.path or delete the database"),
			)
		} else {
			rt.history = store
			recorder = store
		}
	}

	orchestrator, err := batch.New(batch.Options{
		Config:     cfg,
		Logger:     logger,
		Compositor: imaging.NewCompositor(cfg.Encoding.WatermarkMargin),
		Transcoder: transcoder,
		Codecs:     prober,
		History:    recorder,
		Notifier:   notifications.NewService(cfg),
		Observer:   observer,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.orchestrator = orchestrator
	return rt, nil
}

func runBatch(cmd *cobra.Command, cfg *config.Config, opts *rootOptions, paths []string) error {
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
		FilePath:    cfg.LogFile(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logging.NewComponentLogger(logger, "cli")

	ctx, stop := interruptContext(commandContext(cmd))
	defer stop()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	reportPreflight(logger, preflight.RunAll(ctx, cfg))

	view := newProgressView(stdout)
	rt, err := buildRuntime(ctx, cfg, logger, view)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Signals cancel ctx; the children get killed as a group right away
	// rather than waiting for each job to notice.
	stopTerminate := context.AfterFunc(ctx, func() {
		if err := rt.registry.TerminateAll(logger); err != nil {
			logger.Warn("child termination incomplete", logging.Error(err))
		}
	})
	defer stopTerminate()

	report, runErr := rt.orchestrator.RunBatch(ctx, paths)
	stopTerminate()
	// Interrupts at the prompt below get the default behavior.
	stop()
	view.Stop()
	if report != nil {
		writeReport(stdout, report, cfg, shouldColorize(stdout))
	}

	waitForAcknowledgement(cmd.InOrStdin(), stderr, opts.noWait)

	if runErr != nil {
		return runErr
	}
	if _, failed, _ := report.Counts(); failed > 0 {
		return fmt.Errorf("%d file(s) failed; details in %s", failed, cfg.Paths.ErrorLog)
	}
	return nil
}

// interruptContext cancels on SIGINT or SIGTERM. The handler is released
// once the context ends, so a second signal terminates the process.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

func runHistory(cmd *cobra.Command, cfg *config.Config, limit int) error {
	out := cmd.OutOrStdout()
	if !cfg.History.Enabled {
		fmt.Fprintln(out, "Run history is disabled (history.enabled = false).")
		return nil
	}
	ctx := commandContext(cmd)
	store, err := history.Open(ctx, cfg.History.Path, cfg.History.KeepRuns)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	writeHistory(out, runs)
	return nil
}

func runTestNotify(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	if cfg.Notifications.NtfyTopic == "" {
		fmt.Fprintln(out, "Notification not sent")
		return services.Wrap(services.ErrConfiguration, "", "test notify",
			"notifications.ntfy_topic is not set", nil)
	}
	if err := notifications.NewService(cfg).TestNotification(commandContext(cmd)); err != nil {
		return fmt.Errorf("send test notification: %w", err)
	}
	fmt.Fprintf(out, "Test notification sent to %s\n", notifications.Endpoint(cfg.Notifications.NtfyTopic))
	return nil
}

func reportPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "jobs that need it will fail"),
		)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
