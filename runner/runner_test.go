package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runforge/caserunner/types"
)

func newTestRunner(t *testing.T, opts types.RunOptions) *runner {
	t.Helper()
	tr, err := NewTestRunner(Config{
		Options: opts,
		Log:     log.NewLogger(log.DiscardHandler()),
	})
	require.NoError(t, err)
	return tr.(*runner)
}

func passingCase(id string) types.TestCase {
	return types.TestCase{
		ID:   id,
		Name: id,
		Run: types.RunnableFunc(func(ctx context.Context) error {
			return nil
		}),
	}
}

func failingCase(id string) types.TestCase {
	return types.TestCase{
		ID:   id,
		Name: id,
		Run: types.RunnableFunc(func(ctx context.Context) error {
			return errors.New("boom")
		}),
	}
}

func TestRunTests_AllPass(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 2})

	var cases []types.TestCase
	for i := 0; i < 5; i++ {
		cases = append(cases, passingCase(fmt.Sprintf("case-%d", i)))
	}

	results, err := r.RunTests(context.Background(), cases, nil)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, res := range results {
		assert.Equal(t, types.TestStatusPass, res.Status)
		assert.Nil(t, res.Error)
		assert.Zero(t, res.RetryCount)
	}
	assert.Equal(t, types.StateCompleted, r.Status())
	assert.NotEmpty(t, r.RunID())
	assert.Empty(t, r.ActiveSlots())
	assert.Len(t, r.Results(), 5)
}

func TestRunTests_EmptyCaseList(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{})

	results, err := r.RunTests(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, types.StateCompleted, r.Status())
}

func TestRunTests_ConcurrencyNeverExceedsLimit(t *testing.T) {
	const limit = 2
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: limit})

	var active, peak atomic.Int32
	var cases []types.TestCase
	for i := 0; i < 8; i++ {
		cases = append(cases, types.TestCase{
			ID: fmt.Sprintf("case-%d", i),
			Run: types.RunnableFunc(func(ctx context.Context) error {
				now := active.Add(1)
				defer active.Add(-1)
				for {
					old := peak.Load()
					if now <= old || peak.CompareAndSwap(old, now) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				return nil
			}),
		})
	}

	results, err := r.RunTests(context.Background(), cases, nil)
	require.NoError(t, err)
	require.Len(t, results, 8)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestRunTests_ProgressSnapshotsRespectLimit(t *testing.T) {
	const limit = 3
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: limit})

	var mu sync.Mutex
	maxSeen := 0
	onProgress := func(active []types.ExecutionSlot, results []types.TestResult) {
		mu.Lock()
		defer mu.Unlock()
		if len(active) > maxSeen {
			maxSeen = len(active)
		}
	}

	var cases []types.TestCase
	for i := 0; i < 10; i++ {
		cases = append(cases, types.TestCase{
			ID: fmt.Sprintf("case-%d", i),
			Run: types.RunnableFunc(func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			}),
		})
	}

	results, err := r.RunTests(context.Background(), cases, onProgress)
	require.NoError(t, err)
	require.Len(t, results, 10)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, maxSeen, 0)
	assert.LessOrEqual(t, maxSeen, limit)
}

func TestRunTests_OneResultPerCase(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 4})

	var cases []types.TestCase
	for i := 0; i < 12; i++ {
		if i%3 == 0 {
			cases = append(cases, failingCase(fmt.Sprintf("case-%d", i)))
		} else {
			cases = append(cases, passingCase(fmt.Sprintf("case-%d", i)))
		}
	}

	results, err := r.RunTests(context.Background(), cases, nil)
	require.NoError(t, err)
	require.Len(t, results, len(cases))

	seen := make(map[string]int)
	for _, res := range results {
		seen[res.TestID]++
	}
	for _, c := range cases {
		assert.Equal(t, 1, seen[c.ID], "case %s should have exactly one result", c.ID)
	}
}

func TestRunTests_StopOnError(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 1, StopOnError: true})

	cases := []types.TestCase{
		passingCase("case-0"),
		failingCase("case-1"),
		passingCase("case-2"),
		passingCase("case-3"),
	}

	results, err := r.RunTests(context.Background(), cases, nil)
	require.NoError(t, err)

	// Serial dispatch: the failure lands before case-2 is ever dispatched.
	require.Len(t, results, 2)
	assert.Equal(t, types.TestStatusPass, results[0].Status)
	assert.Equal(t, types.TestStatusFail, results[1].Status)
	assert.Equal(t, types.StateStopped, r.Status())
}

func TestRunTests_StopOnErrorKeepsInFlightResults(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 2, StopOnError: true})

	slowStarted := make(chan struct{})
	failGate := make(chan struct{})
	var laterDispatched atomic.Bool

	cases := []types.TestCase{
		{
			ID: "slow",
			Run: types.RunnableFunc(func(ctx context.Context) error {
				close(slowStarted)
				<-ctx.Done()
				return ctx.Err()
			}),
		},
		{
			ID: "doomed",
			Run: types.RunnableFunc(func(ctx context.Context) error {
				// Fail only once the concurrent slow case is running.
				<-failGate
				return errors.New("boom")
			}),
		},
		{
			ID: "never-1",
			Run: types.RunnableFunc(func(ctx context.Context) error {
				laterDispatched.Store(true)
				return nil
			}),
		},
		{
			ID: "never-2",
			Run: types.RunnableFunc(func(ctx context.Context) error {
				laterDispatched.Store(true)
				return nil
			}),
		},
	}

	resultsCh := make(chan []types.TestResult, 1)
	go func() {
		results, err := r.RunTests(context.Background(), cases, nil)
		require.NoError(t, err)
		resultsCh <- results
	}()

	<-slowStarted
	close(failGate)

	select {
	case results := <-resultsCh:
		// The failure stops the run, but the concurrently dispatched slow
		// case still delivers its result; the queued cases never start.
		require.Len(t, results, 2)
		byID := make(map[string]types.TestResult)
		for _, res := range results {
			byID[res.TestID] = res
		}
		require.Contains(t, byID, "slow")
		require.Contains(t, byID, "doomed")
		assert.Equal(t, types.TestStatusFail, byID["doomed"].Status)
		assert.Equal(t, types.StateStopped, r.Status())
		assert.False(t, laterDispatched.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after stop-on-error")
	}
}

func TestRunTests_ContextCancelAbandonsQueue(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstStarted := make(chan struct{})
	var laterDispatched atomic.Bool

	cases := []types.TestCase{
		{
			ID: "first",
			Run: types.RunnableFunc(func(ctx context.Context) error {
				close(firstStarted)
				<-ctx.Done()
				return ctx.Err()
			}),
		},
	}
	for i := 0; i < 4; i++ {
		cases = append(cases, types.TestCase{
			ID: fmt.Sprintf("queued-%d", i),
			Run: types.RunnableFunc(func(ctx context.Context) error {
				laterDispatched.Store(true)
				return nil
			}),
		})
	}

	resultsCh := make(chan []types.TestResult, 1)
	go func() {
		results, err := r.RunTests(ctx, cases, nil)
		require.NoError(t, err)
		resultsCh <- results
	}()

	<-firstStarted
	cancel()

	select {
	case results := <-resultsCh:
		// Cancellation behaves like Stop: only the in-flight case has a
		// result, nothing queued is dispatched into a doomed attempt.
		require.Len(t, results, 1)
		assert.Equal(t, "first", results[0].TestID)
		assert.Equal(t, types.StateStopped, r.Status())
		assert.False(t, laterDispatched.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after context cancellation")
	}
}

func TestRunTests_PauseAndResume(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 1})

	firstStarted := make(chan struct{})
	release := make(chan struct{})

	cases := []types.TestCase{
		{
			ID: "case-0",
			Run: types.RunnableFunc(func(ctx context.Context) error {
				close(firstStarted)
				<-release
				return nil
			}),
		},
		passingCase("case-1"),
		passingCase("case-2"),
	}

	resultsCh := make(chan []types.TestResult, 1)
	go func() {
		results, err := r.RunTests(context.Background(), cases, nil)
		require.NoError(t, err)
		resultsCh <- results
	}()

	<-firstStarted
	r.Pause()
	close(release)

	// The paused scheduler collects the in-flight result but dispatches
	// nothing new.
	require.Eventually(t, func() bool {
		return len(r.Results()) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.ActiveSlots())
	assert.Len(t, r.Results(), 1)
	assert.Equal(t, types.StatePaused, r.Status())

	r.Resume()

	select {
	case results := <-resultsCh:
		require.Len(t, results, 3)
		assert.Equal(t, types.StateCompleted, r.Status())
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after resume")
	}
}

func TestRunTests_PauseBeforeFirstDispatch(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 1})

	// Pausing between runs is a no-op; pausing a fresh runner must not
	// wedge the next run.
	r.Pause()
	assert.Equal(t, types.StateIdle, r.Status())

	results, err := r.RunTests(context.Background(), []types.TestCase{passingCase("case-0")}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRunTests_StopAbandonsQueue(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 2})

	started := make(chan struct{}, 6)
	block := make(chan struct{})

	var cases []types.TestCase
	for i := 0; i < 6; i++ {
		cases = append(cases, types.TestCase{
			ID: fmt.Sprintf("case-%d", i),
			Run: types.RunnableFunc(func(ctx context.Context) error {
				started <- struct{}{}
				select {
				case <-block:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		})
	}

	resultsCh := make(chan []types.TestResult, 1)
	go func() {
		results, err := r.RunTests(context.Background(), cases, nil)
		require.NoError(t, err)
		resultsCh <- results
	}()

	<-started
	<-started
	r.Stop()

	select {
	case results := <-resultsCh:
		// The two in-flight cases deliver results; the four queued ones
		// are gone without a trace.
		require.Len(t, results, 2)
		for _, res := range results {
			assert.Equal(t, types.TestStatusFail, res.Status)
			require.NotNil(t, res.Error)
			assert.Contains(t, res.Error.Message, "context canceled")
		}
		assert.Equal(t, types.StateStopped, r.Status())
		assert.Empty(t, r.ActiveSlots())
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after stop")
	}
	close(block)
}

func TestRunTests_StopIsIdempotent(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{})
	r.Stop()
	r.Stop()
	assert.Equal(t, types.StateIdle, r.Status())

	results, err := r.RunTests(context.Background(), []types.TestCase{passingCase("case-0")}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRunTests_SecondConcurrentRunRejected(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	cases := []types.TestCase{{
		ID: "case-0",
		Run: types.RunnableFunc(func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}),
	}}

	go func() {
		_, _ = r.RunTests(context.Background(), cases, nil)
	}()

	<-started
	_, err := r.RunTests(context.Background(), []types.TestCase{passingCase("case-1")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
	close(release)
}

func TestRunTests_FreshRunResetsState(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 2})

	results, err := r.RunTests(context.Background(), []types.TestCase{failingCase("case-0")}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	firstRunID := r.RunID()

	results, err = r.RunTests(context.Background(), []types.TestCase{passingCase("case-1")}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "case-1", results[0].TestID)
	assert.NotEqual(t, firstRunID, r.RunID())
	assert.Equal(t, types.StateCompleted, r.Status())
}

func TestRunTests_SlotSnapshotsAreCopies(t *testing.T) {
	r := newTestRunner(t, types.RunOptions{MaxConcurrency: 2})

	started := make(chan struct{})
	release := make(chan struct{})
	cases := []types.TestCase{{
		ID:   "case-0",
		Name: "original",
		Run: types.RunnableFunc(func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}),
	}}

	go func() {
		_, _ = r.RunTests(context.Background(), cases, nil)
	}()

	<-started
	slots := r.ActiveSlots()
	require.Len(t, slots, 1)
	slots[0].TestName = "mutated"

	again := r.ActiveSlots()
	require.Len(t, again, 1)
	assert.Equal(t, "original", again[0].TestName)
	close(release)
}
