package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/runforge/caserunner/logging"
	"github.com/runforge/caserunner/metrics"
	"github.com/runforge/caserunner/types"
)

// ProgressFunc is invoked by the scheduler after every dispatch and every
// completion. Both arguments are snapshots; callers may retain them freely.
type ProgressFunc func(active []types.ExecutionSlot, results []types.TestResult)

// TestRunner runs sets of test cases with bounded concurrency and live
// pause/resume/stop control.
type TestRunner interface {
	// RunTests drains the given cases to completion and returns one result
	// per dispatched case. Cases still queued when the run is stopped are
	// absent from the returned slice. Result order follows completion
	// order, not submission order.
	RunTests(ctx context.Context, cases []types.TestCase, onProgress ProgressFunc) ([]types.TestResult, error)

	// Pause halts new dispatches; already-active executions keep running.
	// Only effective while running.
	Pause()
	// Resume continues dispatching the remaining queue. Only effective
	// while paused.
	Resume()
	// Stop abandons the remaining queue. In-flight executions still finish
	// and their results are kept. Idempotent; effective from running or
	// paused.
	Stop()

	Status() types.RunnerState
	ActiveSlots() []types.ExecutionSlot
	Results() []types.TestResult
	RunID() string
}

// TestRunnerWithFileLogger is a TestRunner that can write run artifacts to
// disk via a FileLogger. The app layer uses it to tie log directories to
// run IDs.
type TestRunnerWithFileLogger interface {
	TestRunner
	SetFileLogger(fl *logging.FileLogger)
}

// Config holds configuration for creating a new runner.
type Config struct {
	Options types.RunOptions
	Log     log.Logger
	// Sink receives warn/error entries from per-case loggers, best-effort.
	Sink logging.Sink
}

// runner implements TestRunner.
type runner struct {
	opts   types.RunOptions
	log    log.Logger
	sink   logging.Sink
	tracer trace.Tracer

	mu         sync.Mutex
	cond       *sync.Cond
	state      types.RunnerState
	active     map[int]types.ExecutionSlot
	results    []types.TestResult
	runID      string
	nextSlotID int
	cancelRun  context.CancelFunc
	fileLogger *logging.FileLogger
}

// slotOutcome pairs a terminal result with the slot that produced it.
type slotOutcome struct {
	slotID int
	result types.TestResult
}

// NewTestRunner creates a new test runner instance.
func NewTestRunner(cfg Config) (TestRunner, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	opts := cfg.Options.WithDefaults()
	cfg.Log.Debug("NewTestRunner()",
		"maxConcurrency", opts.MaxConcurrency,
		"timeout", opts.Timeout,
		"retries", opts.Retries,
		"stopOnError", opts.StopOnError)

	r := &runner{
		opts:   opts,
		log:    cfg.Log,
		sink:   cfg.Sink,
		tracer: otel.Tracer("test runner"),
		state:  types.StateIdle,
		active: make(map[int]types.ExecutionSlot),
	}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// RunTests implements the TestRunner interface.
func (r *runner) RunTests(ctx context.Context, cases []types.TestCase, onProgress ProgressFunc) ([]types.TestResult, error) {
	r.mu.Lock()
	if r.state == types.StateRunning || r.state == types.StatePaused {
		r.mu.Unlock()
		return nil, fmt.Errorf("a run is already in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.state = types.StateRunning
	r.active = make(map[int]types.ExecutionSlot)
	r.results = nil
	r.nextSlotID = 0
	if r.fileLogger != nil {
		r.runID = r.fileLogger.RunID()
	} else {
		r.runID = uuid.New().String()
	}
	r.cancelRun = cancel
	runID := r.runID
	r.mu.Unlock()
	defer cancel()

	// Cancellation of the caller's context is a stop signal: abandon the
	// queue instead of burning through it with pre-cancelled attempts.
	stopWatch := context.AfterFunc(runCtx, r.Stop)
	defer stopWatch()

	runCtx, span := r.tracer.Start(runCtx, fmt.Sprintf("run %s", runID))
	defer span.End()

	r.log.Info("Starting test run",
		"run_id", runID,
		"cases", len(cases),
		"maxConcurrency", r.opts.MaxConcurrency,
		"stopOnError", r.opts.StopOnError)

	// The queue is local to the scheduling loop; nothing else may pop it.
	queue := make([]types.TestCase, len(cases))
	copy(queue, cases)
	doneCh := make(chan slotOutcome, len(queue))

	for {
		state := r.awaitNotPaused()
		if state == types.StateStopped {
			break
		}
		if runCtx.Err() != nil {
			r.Stop()
			break
		}

		for len(queue) > 0 && r.canDispatch() {
			c := queue[0]
			queue = queue[1:]
			r.dispatch(runCtx, c, doneCh)
			r.notifyProgress(onProgress)
		}

		if len(queue) == 0 && r.activeCount() == 0 {
			break
		}
		if r.activeCount() == 0 {
			// Paused before anything was dispatched; wait for resume/stop.
			continue
		}

		r.collect(<-doneCh, onProgress)
	}

	// Stop is cooperative: let in-flight executions finish their current
	// attempt and record their results.
	for r.activeCount() > 0 {
		r.collect(<-doneCh, onProgress)
	}

	r.mu.Lock()
	if r.state != types.StateStopped {
		r.state = types.StateCompleted
	}
	finalState := r.state
	results := cloneResults(r.results)
	r.mu.Unlock()

	if len(results) < len(cases) {
		r.log.Warn("Run stopped before all cases were dispatched",
			"run_id", runID, "dispatched", len(results), "submitted", len(cases))
	}
	r.log.Info("Test run finished", "run_id", runID, "state", finalState, "results", len(results))
	return results, nil
}

// awaitNotPaused blocks while the run is paused. Resume and Stop broadcast
// on the condition variable, so there is no polling involved.
func (r *runner) awaitNotPaused() types.RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.state == types.StatePaused {
		r.cond.Wait()
	}
	return r.state
}

func (r *runner) canDispatch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == types.StateRunning && len(r.active) < r.opts.MaxConcurrency
}

func (r *runner) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// dispatch moves a case into an active slot and starts its execution unit.
func (r *runner) dispatch(ctx context.Context, c types.TestCase, doneCh chan<- slotOutcome) {
	r.mu.Lock()
	r.nextSlotID++
	slot := types.ExecutionSlot{
		ID:        r.nextSlotID,
		TestID:    c.ID,
		TestName:  c.DisplayName(),
		Status:    types.SlotStatusActive,
		StartedAt: time.Now(),
	}
	r.active[slot.ID] = slot
	runID := r.runID
	activeNow := len(r.active)
	r.mu.Unlock()

	r.log.Debug("Dispatching test case", "test", c.DisplayName(), "slot", slot.ID, "active", activeNow)
	metrics.RecordDispatch(runID)
	metrics.SetActiveSlots(activeNow)

	go func() {
		doneCh <- slotOutcome{slotID: slot.ID, result: r.executeCase(ctx, c)}
	}()
}

// collect removes the finished slot, appends the result and applies the
// stopOnError policy. Only the scheduling loop calls it.
func (r *runner) collect(o slotOutcome, onProgress ProgressFunc) {
	r.mu.Lock()
	delete(r.active, o.slotID)
	r.results = append(r.results, o.result)
	runID := r.runID
	activeNow := len(r.active)
	stopForError := r.opts.StopOnError &&
		o.result.Status == types.TestStatusFail &&
		(r.state == types.StateRunning || r.state == types.StatePaused)
	if stopForError {
		r.stopLocked()
	}
	r.mu.Unlock()

	r.log.Debug("Collected result",
		"test", o.result.TestName,
		"status", o.result.Status,
		"retries", o.result.RetryCount,
		"active", activeNow)
	metrics.RecordResult(runID, o.result.TestName, string(o.result.Status))
	metrics.SetActiveSlots(activeNow)

	if stopForError {
		r.log.Warn("Stopping run after failed result", "test", o.result.TestName)
	}

	r.notifyProgress(onProgress)
}

func (r *runner) notifyProgress(onProgress ProgressFunc) {
	if onProgress == nil {
		return
	}
	active, results := r.snapshotLocked()
	onProgress(active, results)
}

func (r *runner) snapshotLocked() ([]types.ExecutionSlot, []types.TestResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSlots(r.active), cloneResults(r.results)
}

// Pause implements the TestRunner interface. It never blocks.
func (r *runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != types.StateRunning {
		return
	}
	r.state = types.StatePaused
	r.cond.Broadcast()
	r.log.Info("Run paused", "run_id", r.runID)
}

// Resume implements the TestRunner interface. It never blocks.
func (r *runner) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != types.StatePaused {
		return
	}
	r.state = types.StateRunning
	r.cond.Broadcast()
	r.log.Info("Run resumed", "run_id", r.runID)
}

// Stop implements the TestRunner interface. It never blocks and is
// idempotent.
func (r *runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *runner) stopLocked() {
	if r.state != types.StateRunning && r.state != types.StatePaused {
		return
	}
	r.state = types.StateStopped
	if r.cancelRun != nil {
		r.cancelRun()
	}
	r.cond.Broadcast()
	r.log.Info("Run stopped; remaining queue abandoned", "run_id", r.runID)
}

// Status implements the TestRunner interface.
func (r *runner) Status() types.RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ActiveSlots returns a copy of the current active slot set, ordered by
// slot ID.
func (r *runner) ActiveSlots() []types.ExecutionSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSlots(r.active)
}

// Results returns a copy of the results accumulated so far in this run.
func (r *runner) Results() []types.TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneResults(r.results)
}

// RunID returns the ID of the current (or most recent) run.
func (r *runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// SetFileLogger attaches a FileLogger; the next run adopts its run ID and
// forwards warn/error entries to its sink.
func (r *runner) SetFileLogger(fl *logging.FileLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileLogger = fl
}

// currentSink returns the sink per-case loggers should forward to. The file
// logger's sink takes precedence over the configured one.
func (r *runner) currentSink() logging.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fileLogger != nil {
		return r.fileLogger.Sink()
	}
	return r.sink
}

func cloneSlots(active map[int]types.ExecutionSlot) []types.ExecutionSlot {
	out := make([]types.ExecutionSlot, 0, len(active))
	for _, slot := range active {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneResults(results []types.TestResult) []types.TestResult {
	out := make([]types.TestResult, len(results))
	copy(out, results)
	return out
}

// Make sure the runner type implements the interfaces.
var (
	_ TestRunner               = &runner{}
	_ TestRunnerWithFileLogger = &runner{}
)
