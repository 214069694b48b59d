package caserunner

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"
	"github.com/runforge/caserunner/flags"
)

// Config holds the application configuration
type Config struct {
	PlanFile         string        // Path to the test plan file
	WorkDir          string        // Working directory for test case commands
	Concurrency      int           // Maximum number of cases running at once
	DefaultTimeout   time.Duration // Per-attempt timeout for cases without their own
	Retries          int           // Default retry count for cases without their own
	StopOnError      bool          // Stop dispatching after the first failure
	RunInterval      time.Duration // Interval between test runs
	RunOnce          bool          // Indicates if the service should exit after one test run
	LogDir           string        // Directory to store test logs
	ShowProgress     bool          // Whether to show periodic progress updates during test execution
	ProgressInterval time.Duration // Interval between progress updates when ShowProgress is 'true'
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	planFile := ctx.String(flags.TestPlan.Name)
	absPlanFile, err := filepath.Abs(planFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test plan '%s': %w", planFile, err)
	}

	workDir := ctx.String(flags.WorkDir.Name)
	if workDir != "" {
		workDir, err = filepath.Abs(workDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for work directory: %w", err)
		}
	}

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	concurrency := ctx.Int(flags.Concurrency.Name)
	if concurrency < 0 {
		return nil, fmt.Errorf("concurrency must not be negative, got %d", concurrency)
	}

	timeout := ctx.Duration(flags.DefaultTimeout.Name)
	if timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", timeout)
	}

	retries := ctx.Int(flags.Retries.Name)
	if retries < 0 {
		return nil, fmt.Errorf("retries must not be negative, got %d", retries)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	return &Config{
		PlanFile:         absPlanFile,
		WorkDir:          workDir,
		Concurrency:      concurrency,
		DefaultTimeout:   timeout,
		Retries:          retries,
		StopOnError:      ctx.Bool(flags.StopOnError.Name),
		RunInterval:      runInterval,
		RunOnce:          runOnce,
		LogDir:           logDir,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		Log:              log,
	}, nil
}
