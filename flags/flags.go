package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/runforge/caserunner/types"
)

const EnvVarPrefix = "CASERUNNER"

func prefixEnvVars(name string) []string {
	return []string{fmt.Sprintf("%s_%s", EnvVarPrefix, name)}
}

var (
	TestPlan = &cli.StringFlag{
		Name:     "plan",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("PLAN"),
		Usage:    "Path to the test plan file (eg. 'testplan.yaml')",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   "",
		EnvVars: prefixEnvVars("WORKDIR"),
		Usage:   "Working directory for test case commands",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   types.DefaultMaxConcurrency,
		EnvVars: prefixEnvVars("CONCURRENCY"),
		Usage:   "Maximum number of test cases running at the same time",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   types.DefaultTimeout,
		EnvVars: prefixEnvVars("TIMEOUT"),
		Usage:   "Per-attempt timeout for cases without their own (e.g. '30s')",
	}
	Retries = &cli.IntFlag{
		Name:    "retries",
		Value:   types.DefaultRetries,
		EnvVars: prefixEnvVars("RETRIES"),
		Usage:   "Extra attempts for failing cases without their own retry count",
	}
	StopOnError = &cli.BoolFlag{
		Name:    "stop-on-error",
		Value:   false,
		EnvVars: prefixEnvVars("STOP_ON_ERROR"),
		Usage:   "Stop dispatching new cases after the first failure",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOGDIR"),
		Usage:   "Directory to store per-run test logs",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: prefixEnvVars("SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates during test execution",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: prefixEnvVars("PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: debug, info, warn, error",
	}
)

var requiredFlags = []cli.Flag{
	TestPlan,
}

var optionalFlags = []cli.Flag{
	WorkDir,
	Concurrency,
	DefaultTimeout,
	Retries,
	StopOnError,
	RunInterval,
	LogDir,
	ShowProgress,
	ProgressInterval,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
