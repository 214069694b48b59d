package caserunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/runforge/caserunner/exitcodes"
	"github.com/runforge/caserunner/logging"
	"github.com/runforge/caserunner/metrics"
	"github.com/runforge/caserunner/registry"
	"github.com/runforge/caserunner/runner"
	"github.com/runforge/caserunner/types"
)

// caserunner is a bounded-concurrency test case runner service.
type caserunner struct {
	ctx      context.Context
	config   *Config
	version  string
	registry *registry.Registry
	runner   runner.TestRunnerWithFileLogger
	summary  *runner.RunSummary

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*caserunner, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating caserunner with config",
		"planFile", config.PlanFile,
		"concurrency", config.Concurrency,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"stopOnError", config.StopOnError)

	reg, err := registry.NewRegistry(registry.Config{
		Log:      config.Log,
		PlanFile: config.PlanFile,
		WorkDir:  config.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	testRunner, err := runner.NewTestRunner(runner.Config{
		Options: types.RunOptions{
			MaxConcurrency: config.Concurrency,
			Timeout:        config.DefaultTimeout,
			Retries:        config.Retries,
			StopOnError:    config.StopOnError,
		},
		Log: config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}
	config.Log.Info("caserunner.New: created registry and test runner")

	return &caserunner{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		runner:           testRunner.(runner.TestRunnerWithFileLogger),
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Runner exposes the underlying test runner so callers can wire up live
// control surfaces.
func (c *caserunner) Runner() runner.TestRunner {
	return c.runner
}

// Start runs the test cases, either once or periodically at the configured
// interval.
func (c *caserunner) Start(ctx context.Context) error {
	// Panics outside of case execution are runtime errors, exit code 2
	defer func() {
		if r := recover(); r != nil {
			c.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	c.ctx = ctx
	c.done = make(chan struct{})
	c.running.Store(true)

	if c.config.RunOnce {
		c.config.Log.Info("Starting caserunner in run-once mode")
	} else {
		c.config.Log.Info("Starting caserunner in continuous mode", "interval", c.config.RunInterval)
	}

	// Run tests immediately on startup
	err := c.runTests()
	if err != nil {
		c.config.Log.Error("Runtime error running tests", "error", err)
		return NewRuntimeError(err)
	}

	// If in run-once mode, report the outcome and return
	if c.config.RunOnce {
		c.config.Log.Info("Tests completed, exiting (run-once mode)")

		if c.summary != nil && c.summary.Status == types.TestStatusFail {
			c.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(c.summary.String())
		}

		if c.shutdownCallback != nil {
			go func() {
				c.shutdownCallback(nil)
			}()
		}
		return nil
	}

	// Start a goroutine for periodic test execution
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.config.Log.Debug("Starting periodic test runner goroutine", "interval", c.config.RunInterval)

		for {
			select {
			case <-time.After(c.config.RunInterval):
				if !c.running.Load() {
					c.config.Log.Debug("Service stopped, exiting periodic test runner")
					return
				}

				c.config.Log.Info("Running periodic tests")
				if err := c.runTests(); err != nil {
					c.config.Log.Error("Error running periodic tests", "error", err)
				}

			case <-c.done:
				c.config.Log.Debug("Done signal received, stopping periodic test runner")
				return

			case <-ctx.Done():
				c.config.Log.Debug("Context canceled, stopping periodic test runner")
				c.running.Store(false)
				return
			}
		}
	}()
	c.config.Log.Debug("caserunner started successfully")
	return nil
}

// runTests runs all test cases and processes the results
func (c *caserunner) runTests() error {
	c.config.Log.Info("Running all test cases...")

	fileLogger, err := logging.NewFileLogger(c.config.LogDir, uuid.New().String())
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	c.runner.SetFileLogger(fileLogger)

	cases := c.registry.GetCases()

	var onProgress runner.ProgressFunc
	var console *runner.ConsoleProgress
	if c.config.ShowProgress {
		console = runner.NewConsoleProgress(c.config.Log, len(cases), c.config.ProgressInterval)
		onProgress = console.Observe
	}

	start := time.Now()
	results, err := c.runner.RunTests(c.ctx, cases, onProgress)
	end := time.Now()
	if console != nil {
		console.Stop()
	}
	if err != nil {
		// This is a runtime error (not a test failure)
		return err
	}

	summary := runner.Summarize(c.runner.RunID(), c.runner.Status(), results, start, end)
	c.summary = summary
	metrics.RecordRunResult(summary.RunID, string(summary.Status))

	c.printResultsTable(summary)
	fmt.Println(summary.String())
	c.writeArtifacts(fileLogger, summary)

	c.config.Log.Info("Test run completed", "run_id", summary.RunID, "status", summary.Status)
	return nil
}

// writeArtifacts persists per-case logs and the run summary. Artifact
// failures are logged but never fail the run.
func (c *caserunner) writeArtifacts(fileLogger *logging.FileLogger, summary *runner.RunSummary) {
	for _, res := range summary.Results {
		passed := res.Status == types.TestStatusPass
		if err := fileLogger.WriteCaseLog(res.TestName, passed, formatCaseLog(res)); err != nil {
			c.config.Log.Error("Failed to write case log", "test", res.TestName, "error", err)
		}
	}
	if err := fileLogger.WriteSummary(summary.String()); err != nil {
		c.config.Log.Error("Failed to write run summary", "error", err)
	}
	if err := fileLogger.Complete(); err != nil {
		c.config.Log.Error("Failed to finalize log directory", "error", err)
	}
	c.config.Log.Info("Run artifacts written", "dir", fileLogger.RunDir())
}

// Stop stops the caserunner service.
func (c *caserunner) Stop(ctx context.Context) error {
	c.config.Log.Info("Stopping caserunner")

	if !c.running.Load() {
		c.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	// Update running state first to prevent new test runs
	c.running.Store(false)

	// Abandon any in-flight run and signal goroutines to exit
	c.runner.Stop()
	close(c.done)
	c.wg.Wait()

	c.config.Log.Info("caserunner stopped successfully")
	return nil
}

// Stopped returns true if the caserunner service is stopped.
func (c *caserunner) Stopped() bool {
	return !c.running.Load()
}

// printResultsTable prints the results of the test run to the console.
func (c *caserunner) printResultsTable(summary *runner.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Test Case Results (%s)", formatDuration(summary.WallClockTime)))

	t.AppendHeader(table.Row{
		"ID", "Name", "Duration", "Retries", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Name", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Retries", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, res := range summary.Results {
		t.AppendRow(table.Row{
			res.TestID,
			res.TestName,
			formatDuration(res.Duration),
			res.RetryCount,
			getResultString(res.Status),
			firstErrorLine(res.Error),
		})
	}

	t.AppendFooter(table.Row{
		"", "TOTAL",
		formatDuration(summary.Duration),
		"",
		fmt.Sprintf("%d passed, %d failed", summary.Stats.Passed, summary.Stats.Failed),
		"",
	})
	t.Render()
}

// formatCaseLog renders the structured entries captured during a case's
// execution into the text stored on disk.
func formatCaseLog(res types.TestResult) string {
	var b strings.Builder
	for _, e := range res.Logs {
		b.WriteString(fmt.Sprintf("%s %-5s %s", e.Timestamp.Format(time.RFC3339Nano), strings.ToUpper(string(e.Level)), e.Message))
		for k, v := range e.Details {
			b.WriteString(fmt.Sprintf(" %s=%v", k, v))
		}
		b.WriteString("\n")
	}
	if res.Error != nil {
		b.WriteString(fmt.Sprintf("\nerror: %s\n", res.Error.Message))
		if res.Error.Stack != "" {
			b.WriteString(res.Error.Stack)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// getResultString returns a short string representing the case result
func getResultString(status types.TestStatus) string {
	if status == types.TestStatusPass {
		return "✓ pass"
	}
	return "✗ fail"
}

// firstErrorLine trims an error down to its first line for table display.
func firstErrorLine(err *types.TestError) string {
	if err == nil {
		return ""
	}
	msg := err.Message
	if idx := strings.Index(msg, "\n"); idx != -1 {
		msg = msg[:idx]
	}
	return msg
}

// formatDuration formats the duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
