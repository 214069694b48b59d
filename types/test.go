package types

import (
	"fmt"
	"time"

	"github.com/runforge/caserunner/logging"
)

// TestStatus represents the terminal outcome of a test case execution
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
)

// SlotStatus represents the lifecycle state of an execution slot
type SlotStatus string

const (
	SlotStatusActive    SlotStatus = "active"
	SlotStatusCompleted SlotStatus = "completed"
)

// TestCase describes one unit of work to schedule. A case is immutable once
// submitted. Timeout and Retries are optional; nil means the runner defaults
// apply.
type TestCase struct {
	ID      string
	Name    string
	Timeout *time.Duration
	Retries *int
	Run     Runnable
}

// DisplayName returns the case name, falling back to the ID when unset.
func (c TestCase) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ExecutionSlot is the bookkeeping record for one concurrently running test
// case. A slot is created on dispatch and destroyed once the case reaches a
// terminal result; retry attempts stay under the same slot.
type ExecutionSlot struct {
	ID        int
	TestID    string
	TestName  string
	Status    SlotStatus
	StartedAt time.Time
}

// TestError carries the failure details of a terminal failed result.
type TestError struct {
	Message string
	Stack   string
}

func (e *TestError) Error() string {
	return e.Message
}

// TestResult captures the terminal outcome of a single test case. Exactly
// one result is produced per dispatched case; cases still queued when a run
// stops produce no result at all.
type TestResult struct {
	TestID   string
	TestName string
	Status   TestStatus
	Start    time.Time
	End      time.Time
	// Duration is wall clock time from the first attempt start to the
	// terminal attempt end, including all retries.
	Duration time.Duration
	// RetryCount is the number of failed attempts before the terminal one.
	RetryCount int
	Error      *TestError
	TimedOut   bool
	Logs       []logging.Entry
}

// TimeoutError reports an attempt that exceeded its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test timed out after %v", e.Timeout)
}
