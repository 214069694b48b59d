// Package runner implements the bounded-concurrency test case scheduler.
//
// The scheduler is a single decision maker: only the RunTests loop pops the
// pending queue, creates execution slots and appends results, so the
// concurrency bound needs no coordination beyond the runner's own mutex.
// Execution units run in their own goroutines and report terminal results
// over a completion channel; pause/resume/stop are signalled through a
// condition variable and a run-scoped context.
package runner
