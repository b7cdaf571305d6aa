package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"sentryfleet/internal/logger"
	"sentryfleet/internal/runnerd"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "sentryfleet-runner",
		Usage:   "Runner worker: claims due tests from the registry and executes them in sandboxed children.",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "registry-url", EnvVars: []string{"SENTRYFLEET_REGISTRY_URL"}, Required: true},
			&cli.StringFlag{Name: "runner-token", EnvVars: []string{"SENTRYFLEET_RUNNER_TOKEN"}, Required: true},
			&cli.StringFlag{Name: "artifacts-root", Value: "./data/artifacts", EnvVars: []string{"SENTRYFLEET_ARTIFACTS_DIR"}},
			&cli.IntFlag{Name: "concurrency", Value: 2, EnvVars: []string{"SENTRYFLEET_RUNNER_CONCURRENCY"}},
			&cli.BoolFlag{Name: "capture-trace-on-fail", EnvVars: []string{"SENTRYFLEET_CAPTURE_TRACE_ON_FAIL"}},
			&cli.DurationFlag{Name: "poll-interval", Value: 5 * time.Second, EnvVars: []string{"SENTRYFLEET_RUNNER_POLL_INTERVAL"}},
		},
		Action: runRunner,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRunner(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, log := logger.PrepareLogger(ctx)
	defer func() { _ = log.Sync() }()
	ctx = logger.WithComponent(ctx, "runnerd")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	worker := &runnerd.Worker{
		Registry: runnerd.NewRegistryClient(runnerd.RegistryConfig{
			BaseURL: c.String("registry-url"),
			Token:   c.String("runner-token"),
		}),
		Cfg: runnerd.Config{
			ArtifactsRoot:      c.String("artifacts-root"),
			Concurrency:        c.Int("concurrency"),
			CaptureTraceOnFail: c.Bool("capture-trace-on-fail"),
			PollInterval:       c.Duration("poll-interval"),
		},
	}

	log.Info("runner starting")
	worker.Run(ctx)
	log.Info("runner stopped")
	return nil
}
