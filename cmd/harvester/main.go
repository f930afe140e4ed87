package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/app"
	"github.com/kapu/yt-harvester-go/internal/config"
	"github.com/kapu/yt-harvester-go/internal/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	resumeFrom := flag.String("resume", "", "batch id of a checkpoint to resume")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] <channel> [channel...]\n\nChannels may be ids (UC...), handles (@name) or URLs.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	inputs := flag.Args()
	if len(inputs) == 0 && *resumeFrom == "" {
		flag.Usage()
		return 2
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}

	// Initialize logger
	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 2
	}
	defer logger.Sync()

	logger.Info("Transcript harvester starting",
		zap.Int("channels", len(inputs)),
		zap.String("resume_from", *resumeFrom),
	)

	buildCtx, buildCancel := context.WithTimeout(context.Background(), 30*time.Second)
	container, err := app.Build(buildCtx, cfg, logger)
	buildCancel()
	if err != nil {
		logger.Error("Failed to assemble application services", zap.Error(err))
		return 2
	}

	// Create context with cancellation for runtime lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	req := container.RequestFromConfig(inputs, *resumeFrom)
	result, err := container.RunBatch(ctx, req)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	container.Shutdown(shutdownCtx)

	if err != nil {
		logger.Error("Batch failed", zap.Error(err))
		return 2
	}

	logger.Info("Batch complete",
		zap.String("batch_id", result.BatchID),
		zap.Int("successes", result.Totals.Successes),
		zap.Int("failures", result.Totals.Failures),
		zap.Int("skips", result.Totals.Skips),
		zap.Int("exit_code", result.ExitCode()),
	)
	return result.ExitCode()
}
