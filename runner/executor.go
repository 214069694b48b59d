package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/runforge/caserunner/logging"
	"github.com/runforge/caserunner/metrics"
	"github.com/runforge/caserunner/types"
)

// panicError wraps a recovered panic from a work item so the stack survives
// into the test result.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.value)
}

// executeCase runs one test case to a terminal result, applying the
// per-attempt timeout and the retry policy. It always returns a result,
// whatever the work item does: errors, panics and timeouts are all folded
// into a failed TestResult, never propagated to the scheduler.
func (r *runner) executeCase(ctx context.Context, c types.TestCase) types.TestResult {
	caseLog := logging.NewTestLogger(r.currentSink())

	timeout := r.opts.Timeout
	if c.Timeout != nil {
		timeout = *c.Timeout
	}
	retries := r.opts.Retries
	if c.Retries != nil {
		retries = *c.Retries
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("case %s", c.DisplayName()))
	defer span.End()

	start := time.Now()
	caseLog.Info("Starting test case", map[string]any{
		"test":    c.DisplayName(),
		"timeout": timeout.String(),
		"retries": retries,
	})

	var lastErr error
	var timedOut bool
	attemptsMade := 0
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			caseLog.Info("Retrying test case", map[string]any{"attempt": attempt + 1})
			metrics.RecordRetry(c.DisplayName())
		}
		attemptsMade++

		err, attemptTimedOut := r.runAttempt(ctx, c, timeout)
		if err == nil {
			lastErr = nil
			timedOut = false
			break
		}
		lastErr = err
		timedOut = attemptTimedOut
		caseLog.Error("Attempt failed", map[string]any{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})

		if ctx.Err() != nil {
			// The run was stopped. The current attempt was allowed to
			// finish; no further retries are made.
			break
		}
	}
	end := time.Now()

	result := types.TestResult{
		TestID:     c.ID,
		TestName:   c.DisplayName(),
		Start:      start,
		End:        end,
		Duration:   end.Sub(start),
		RetryCount: attemptsMade - 1,
		TimedOut:   timedOut,
	}
	if lastErr == nil {
		result.Status = types.TestStatusPass
		caseLog.Info("Test case passed", map[string]any{
			"duration": result.Duration.String(),
			"retries":  result.RetryCount,
		})
	} else {
		result.Status = types.TestStatusFail
		result.Error = toTestError(lastErr)
	}
	result.Logs = caseLog.Snapshot()

	return result
}

// runAttempt races one invocation of the work item against its deadline.
// Each attempt is timed independently; retries do not share a deadline.
func (r *runner) runAttempt(ctx context.Context, c types.TestCase, timeout time.Duration) (err error, timedOut bool) {
	if c.Run == nil {
		return fmt.Errorf("test case %s has no work item", c.DisplayName()), false
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errCh <- &panicError{value: rec, stack: debug.Stack()}
			}
		}()
		errCh <- c.Run.Run(attemptCtx)
	}()

	select {
	case err := <-errCh:
		return err, false
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// The work item may never resolve; it is abandoned to its
			// goroutine and the attempt is recorded as timed out.
			return &types.TimeoutError{Timeout: timeout}, true
		}
		return attemptCtx.Err(), false
	}
}

func toTestError(err error) *types.TestError {
	var p *panicError
	if errors.As(err, &p) {
		return &types.TestError{Message: p.Error(), Stack: string(p.stack)}
	}
	return &types.TestError{Message: err.Error()}
}
