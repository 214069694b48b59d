package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	caserunner "github.com/runforge/caserunner"
	"github.com/runforge/caserunner/flags"
	"github.com/runforge/caserunner/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	// Global service shared between the CLI action and the HTTP surface so
	// the control server can reach the active runner.
	svc := service.New()

	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "caserunner"
	app.Usage = "Bounded-concurrency test case runner service"
	app.Description = "caserunner executes test plans with a concurrency cap, per-case timeouts and retries, and live pause/resume/stop control"
	app.Flags = flags.Flags
	app.Action = func(cliCtx *cli.Context) error {
		return run(cliCtx, svc)
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if caserunner.IsRuntimeError(err) {
				// For runtime errors, use exit code 2
				cli.HandleExitCoder(cli.Exit(err.Error(), 2))
			} else if caserunner.IsTestFailureError(err) {
				// For test failures, use exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			}
		}
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server
	svc.Start(ctx)
	defer svc.Shutdown()

	// Start CLI
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(cliCtx *cli.Context, svc *service.Service) error {
	logger := setupLogger(cliCtx)

	cfg, err := caserunner.NewConfig(cliCtx, logger)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return caserunner.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	app, err := caserunner.New(cliCtx.Context, cfg, Version, nil)
	if err != nil {
		return caserunner.NewRuntimeError(fmt.Errorf("failed to create caserunner: %w", err))
	}

	// Expose the runner on the control endpoints
	svc.SetRunner(app.Runner())

	if err := app.Start(cliCtx.Context); err != nil {
		return err
	}
	if cfg.RunOnce {
		return nil
	}

	// Continuous mode: block until signaled, then shut down cleanly.
	<-cliCtx.Context.Done()
	return app.Stop(context.Background())
}

// setupLogger configures the global structured logger from the CLI flags.
func setupLogger(cliCtx *cli.Context) log.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cliCtx.String(flags.LogLevel.Name))); err != nil {
		level = slog.LevelInfo
	}
	logger := log.NewLogger(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	log.SetDefault(logger)
	return logger
}
