// Package registry loads test plans and turns them into schedulable test
// cases. A plan is a YAML file declaring named cases backed by shell
// commands; the engine itself never learns what a case does.
package registry

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/runforge/caserunner/types"
)

// Registry manages the test plan and the cases derived from it.
type Registry struct {
	config Config
	cases  []types.TestCase
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log          log.Logger
	PlanFile     string
	WorkDir      string // Working directory for case commands
	CaptureBytes int    // Max bytes of command output kept per attempt, 0 = default
}

// PlanCase is one case declaration in a test plan file.
type PlanCase struct {
	ID      string         `yaml:"id,omitempty"`
	Name    string         `yaml:"name"`
	Command []string       `yaml:"command"`
	Timeout *time.Duration `yaml:"timeout,omitempty"`
	Retries *int           `yaml:"retries,omitempty"`
}

// Plan is the top-level structure of a test plan file.
type Plan struct {
	Cases []PlanCase `yaml:"cases"`
}

// NewRegistry creates a new registry instance and loads the plan.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.PlanFile == "" {
		return nil, fmt.Errorf("test plan file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		config: cfg,
	}

	if err := r.loadPlan(cfg.PlanFile); err != nil {
		return nil, fmt.Errorf("failed to load test plan: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "len(cases)", len(r.cases))

	return r, nil
}

// loadPlan reads the plan file and builds the case list.
func (r *Registry) loadPlan(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	plan, err := loadPlanFile(path)
	if err != nil {
		return err
	}

	cases, err := r.buildCases(plan)
	if err != nil {
		return err
	}

	r.cases = cases
	return nil
}

func loadPlanFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}

	return &plan, nil
}

// buildCases validates the plan and converts it into test cases with
// process-spawning work items.
func (r *Registry) buildCases(plan *Plan) ([]types.TestCase, error) {
	if len(plan.Cases) == 0 {
		return nil, fmt.Errorf("test plan declares no cases")
	}

	seen := make(map[string]struct{}, len(plan.Cases))
	cases := make([]types.TestCase, 0, len(plan.Cases))
	for i, pc := range plan.Cases {
		if pc.Name == "" {
			return nil, fmt.Errorf("case %d has no name", i)
		}
		if len(pc.Command) == 0 {
			return nil, fmt.Errorf("case %q has no command", pc.Name)
		}
		if pc.Timeout != nil && *pc.Timeout <= 0 {
			return nil, fmt.Errorf("case %q has a non-positive timeout", pc.Name)
		}
		if pc.Retries != nil && *pc.Retries < 0 {
			return nil, fmt.Errorf("case %q has a negative retry count", pc.Name)
		}

		id := pc.ID
		if id == "" {
			id = fmt.Sprintf("case-%03d", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate case id %q", id)
		}
		seen[id] = struct{}{}

		cases = append(cases, types.TestCase{
			ID:      id,
			Name:    pc.Name,
			Timeout: pc.Timeout,
			Retries: pc.Retries,
			Run: &CommandRunnable{
				Command:      pc.Command,
				Dir:          r.config.WorkDir,
				CaptureBytes: r.config.CaptureBytes,
			},
		})
	}

	return cases, nil
}

// GetCases returns the cases built from the plan, in declaration order.
func (r *Registry) GetCases() []types.TestCase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.TestCase, len(r.cases))
	copy(out, r.cases)
	return out
}
