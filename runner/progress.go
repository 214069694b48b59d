package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/runforge/caserunner/types"
)

// ConsoleProgress periodically logs how a run is going. It consumes the
// scheduler's progress snapshots through Observe, so it fits anywhere a
// ProgressFunc is accepted.
type ConsoleProgress struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	mu     sync.RWMutex

	totalCases int
	completed  int
	active     []types.ExecutionSlot
	startTime  time.Time
}

// NewConsoleProgress creates a progress reporter logging at updateInterval.
func NewConsoleProgress(logger log.Logger, totalCases int, updateInterval time.Duration) *ConsoleProgress {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}

	p := &ConsoleProgress{
		logger:     logger,
		ticker:     time.NewTicker(updateInterval),
		stopCh:     make(chan struct{}),
		totalCases: totalCases,
		startTime:  time.Now(),
	}

	go p.reportLoop()

	return p
}

// Observe is a ProgressFunc; the scheduler hands it snapshot copies, so it
// may retain them without further copying.
func (p *ConsoleProgress) Observe(active []types.ExecutionSlot, results []types.TestResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = active
	p.completed = len(results)
}

func (p *ConsoleProgress) reportLoop() {
	for {
		select {
		case <-p.ticker.C:
			p.report()
		case <-p.stopCh:
			return
		}
	}
}

func (p *ConsoleProgress) report() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var percentComplete float64
	if p.totalCases > 0 {
		percentComplete = float64(p.completed) * 100.0 / float64(p.totalCases)
	}

	p.logger.Info("Progress update",
		"completed", p.completed,
		"total", p.totalCases,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numActive", len(p.active),
		"longestRunning", formatActiveSlots(p.active, 3),
		"elapsed", time.Since(p.startTime).Truncate(time.Second))
}

// Stop stops the progress reporter.
func (p *ConsoleProgress) Stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
	close(p.stopCh)
}

// formatActiveSlots formats the longest-running active cases into a display
// string, limited to maxShow entries.
func formatActiveSlots(active []types.ExecutionSlot, maxShow int) string {
	if len(active) == 0 {
		return ""
	}

	slots := make([]types.ExecutionSlot, len(active))
	copy(slots, active)

	// Longest running first.
	now := time.Now()
	sort.Slice(slots, func(i, j int) bool {
		return now.Sub(slots[i].StartedAt) > now.Sub(slots[j].StartedAt)
	})

	var parts []string
	for i, slot := range slots {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", slot.TestName, now.Sub(slot.StartedAt).Truncate(time.Second)))
	}

	if len(slots) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(slots)-maxShow))
	}

	return strings.Join(parts, ", ")
}
