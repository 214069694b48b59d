package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/runforge/caserunner/types"
)

// ResultStats tracks test statistics for one run.
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	StartTime time.Time
	EndTime   time.Time
}

// RunSummary captures the aggregated outcome of one run.
type RunSummary struct {
	RunID string
	// State is the runner's final state, completed or stopped.
	State  types.RunnerState
	Status types.TestStatus
	Stats  ResultStats
	// Duration is the sum of case durations; WallClockTime is the elapsed
	// time of the whole run. They diverge under concurrent execution.
	Duration      time.Duration
	WallClockTime time.Duration
	Results       []types.TestResult
}

// Summarize aggregates the results of a finished run.
func Summarize(runID string, state types.RunnerState, results []types.TestResult, start, end time.Time) *RunSummary {
	s := &RunSummary{
		RunID:         runID,
		State:         state,
		Stats:         ResultStats{StartTime: start, EndTime: end},
		WallClockTime: end.Sub(start),
		Results:       results,
	}

	for _, res := range results {
		s.Stats.Total++
		switch res.Status {
		case types.TestStatusPass:
			s.Stats.Passed++
		case types.TestStatusFail:
			s.Stats.Failed++
		}
		s.Duration += res.Duration
	}

	s.Status = determineRunStatus(results)
	return s
}

// determineRunStatus returns fail if any case failed, pass otherwise.
func determineRunStatus(results []types.TestResult) types.TestStatus {
	for _, res := range results {
		if res.Status == types.TestStatusFail {
			return types.TestStatusFail
		}
	}
	return types.TestStatusPass
}

// formatDuration formats the duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// String returns a formatted string representation of the run results
func (s *RunSummary) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Test Run Results (%s):\n", formatDuration(s.WallClockTime)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d\n",
		s.Stats.Total, s.Stats.Passed, s.Stats.Failed))

	for i, res := range s.Results {
		prefix := "├──"
		errIndent := "│   "
		if i == len(s.Results)-1 {
			prefix = "└──"
			errIndent = "    "
		}
		b.WriteString(fmt.Sprintf("%s Test: %s (%s) [status=%s retries=%d]\n",
			prefix, res.TestName, formatDuration(res.Duration), res.Status, res.RetryCount))
		if res.Error != nil {
			b.WriteString(fmt.Sprintf("%s    └── Error: %s\n", errIndent, res.Error.Message))
		}
	}

	if s.State == types.StateStopped {
		b.WriteString("Run was stopped before the queue drained; undispatched cases have no result.\n")
	}
	return b.String()
}
