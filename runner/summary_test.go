package runner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runforge/caserunner/types"
)

func TestSummarize(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	end := time.Now()
	results := []types.TestResult{
		{TestID: "a", TestName: "a", Status: types.TestStatusPass, Duration: 2 * time.Second},
		{TestID: "b", TestName: "b", Status: types.TestStatusFail, Duration: 3 * time.Second,
			Error: &types.TestError{Message: "boom"}},
		{TestID: "c", TestName: "c", Status: types.TestStatusPass, Duration: time.Second},
	}

	s := Summarize("run-1", types.StateCompleted, results, start, end)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, types.TestStatusFail, s.Status)
	assert.Equal(t, 3, s.Stats.Total)
	assert.Equal(t, 2, s.Stats.Passed)
	assert.Equal(t, 1, s.Stats.Failed)
	assert.Equal(t, 6*time.Second, s.Duration)
	assert.Equal(t, end.Sub(start), s.WallClockTime)
}

func TestSummarize_AllPass(t *testing.T) {
	results := []types.TestResult{
		{TestID: "a", Status: types.TestStatusPass},
	}
	s := Summarize("run-2", types.StateCompleted, results, time.Now(), time.Now())
	assert.Equal(t, types.TestStatusPass, s.Status)
}

func TestSummarize_EmptyRunPasses(t *testing.T) {
	s := Summarize("run-3", types.StateCompleted, nil, time.Now(), time.Now())
	assert.Equal(t, types.TestStatusPass, s.Status)
	assert.Zero(t, s.Stats.Total)
}

func TestRunSummaryString(t *testing.T) {
	results := []types.TestResult{
		{TestName: "first", Status: types.TestStatusPass, Duration: time.Second},
		{TestName: "second", Status: types.TestStatusFail, Duration: 2 * time.Second,
			RetryCount: 1, Error: &types.TestError{Message: "assertion blew up"}},
	}
	s := Summarize("run-4", types.StateCompleted, results, time.Now().Add(-3*time.Second), time.Now())

	out := s.String()
	require.Contains(t, out, "Total: 2, Passed: 1, Failed: 1")
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "assertion blew up")
	assert.Contains(t, out, "retries=1")
	assert.NotContains(t, out, "stopped")
}

func TestRunSummaryString_ErrorBranchAlignment(t *testing.T) {
	results := []types.TestResult{
		{TestName: "first", Status: types.TestStatusFail, Error: &types.TestError{Message: "first boom"}},
		{TestName: "last", Status: types.TestStatusFail, Error: &types.TestError{Message: "last boom"}},
	}
	s := Summarize("run-6", types.StateCompleted, results, time.Now(), time.Now())

	out := s.String()
	// The continuation bar only appears while a sibling follows; the last
	// branch's error hangs off plain indentation.
	assert.Contains(t, out, "│       └── Error: first boom")
	assert.Contains(t, out, "        └── Error: last boom")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "last boom") {
			assert.False(t, strings.HasPrefix(line, "│"), "last error line should not carry a continuation bar: %q", line)
		}
	}
}

func TestRunSummaryString_StoppedRun(t *testing.T) {
	s := Summarize("run-5", types.StateStopped, []types.TestResult{
		{TestName: "only", Status: types.TestStatusPass},
	}, time.Now(), time.Now())

	assert.Contains(t, s.String(), "stopped before the queue drained")
}
