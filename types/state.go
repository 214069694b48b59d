package types

import "time"

// RunnerState represents the lifecycle state of one scheduler run.
//
//	idle ──start──▶ running ──pause──▶ paused
//	                  ▲                  │
//	                  └─────resume───────┘
//	running|paused ──stop──▶ stopped
//	running ──queue drained ∧ no active──▶ completed
//
// completed and stopped are terminal for a run instance; a subsequent start
// begins a fresh run with queue, slots and results reset.
type RunnerState string

const (
	StateIdle      RunnerState = "idle"
	StateRunning   RunnerState = "running"
	StatePaused    RunnerState = "paused"
	StateStopped   RunnerState = "stopped"
	StateCompleted RunnerState = "completed"
)

// Terminal returns true for states no run can leave.
func (s RunnerState) Terminal() bool {
	return s == StateStopped || s == StateCompleted
}

const (
	DefaultMaxConcurrency = 3
	DefaultTimeout        = 30 * time.Second
	DefaultRetries        = 0
)

// RunOptions configures one scheduler run.
type RunOptions struct {
	// MaxConcurrency caps the number of simultaneously active slots.
	MaxConcurrency int
	// Timeout is the per-attempt deadline for cases without their own.
	Timeout time.Duration
	// Retries is the number of extra attempts for cases without their own.
	Retries int
	// StopOnError stops dispatching new cases after the first failed result.
	StopOnError bool
}

// WithDefaults fills unset fields with the documented defaults.
func (o RunOptions) WithDefaults() RunOptions {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retries < 0 {
		o.Retries = DefaultRetries
	}
	return o
}
