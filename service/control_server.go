package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/runforge/caserunner/runner"
	"github.com/runforge/caserunner/types"
)

// ControlServer exposes the runner's live controls over HTTP:
//
//	POST /control/pause
//	POST /control/resume
//	POST /control/stop
//	GET  /control/status
//	GET  /control/slots
//	GET  /control/results
//
// Control calls are no-ops outside the states they apply to, mirroring the
// runner's own semantics, so they always answer 200 once a runner is wired.
type ControlServer struct {
	ctx    context.Context
	server *http.Server

	mu     sync.RWMutex
	runner runner.TestRunner
}

func (c *ControlServer) SetRunner(r runner.TestRunner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runner = r
}

func (c *ControlServer) getRunner() runner.TestRunner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runner
}

func (c *ControlServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("POST /control/pause", c.handlePause)
	hdlr.HandleFunc("POST /control/resume", c.handleResume)
	hdlr.HandleFunc("POST /control/stop", c.handleStop)
	hdlr.HandleFunc("GET /control/status", c.handleStatus)
	hdlr.HandleFunc("GET /control/slots", c.handleSlots)
	hdlr.HandleFunc("GET /control/results", c.handleResults)

	crs := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	server := &http.Server{
		Handler: crs.Handler(hdlr),
		Addr:    addr,
	}
	c.server = server
	c.ctx = ctx
	return c.server.ListenAndServe()
}

func (c *ControlServer) Shutdown() error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(c.ctx)
}

func (c *ControlServer) handlePause(w http.ResponseWriter, r *http.Request) {
	c.withRunner(w, func(tr runner.TestRunner) {
		tr.Pause()
		log.Info("Pause requested via control API")
		writeJSON(w, statusResponse{Status: tr.Status()})
	})
}

func (c *ControlServer) handleResume(w http.ResponseWriter, r *http.Request) {
	c.withRunner(w, func(tr runner.TestRunner) {
		tr.Resume()
		log.Info("Resume requested via control API")
		writeJSON(w, statusResponse{Status: tr.Status()})
	})
}

func (c *ControlServer) handleStop(w http.ResponseWriter, r *http.Request) {
	c.withRunner(w, func(tr runner.TestRunner) {
		tr.Stop()
		log.Info("Stop requested via control API")
		writeJSON(w, statusResponse{Status: tr.Status()})
	})
}

func (c *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	c.withRunner(w, func(tr runner.TestRunner) {
		writeJSON(w, statusResponse{Status: tr.Status(), RunID: tr.RunID()})
	})
}

func (c *ControlServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	c.withRunner(w, func(tr runner.TestRunner) {
		slots := tr.ActiveSlots()
		out := make([]slotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, slotResponse{
				ID:        s.ID,
				TestID:    s.TestID,
				TestName:  s.TestName,
				Status:    string(s.Status),
				StartedAt: s.StartedAt,
			})
		}
		writeJSON(w, out)
	})
}

func (c *ControlServer) handleResults(w http.ResponseWriter, r *http.Request) {
	c.withRunner(w, func(tr runner.TestRunner) {
		results := tr.Results()
		out := make([]resultResponse, 0, len(results))
		for _, res := range results {
			rr := resultResponse{
				TestID:     res.TestID,
				TestName:   res.TestName,
				Status:     string(res.Status),
				Start:      res.Start,
				End:        res.End,
				DurationMS: res.Duration.Milliseconds(),
				RetryCount: res.RetryCount,
				TimedOut:   res.TimedOut,
			}
			if res.Error != nil {
				rr.Error = res.Error.Message
			}
			out = append(out, rr)
		}
		writeJSON(w, out)
	})
}

func (c *ControlServer) withRunner(w http.ResponseWriter, fn func(tr runner.TestRunner)) {
	tr := c.getRunner()
	if tr == nil {
		http.Error(w, "no runner attached", http.StatusServiceUnavailable)
		return
	}
	fn(tr)
}

type statusResponse struct {
	Status types.RunnerState `json:"status"`
	RunID  string            `json:"run_id,omitempty"`
}

type slotResponse struct {
	ID        int       `json:"id"`
	TestID    string    `json:"test_id"`
	TestName  string    `json:"test_name"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

type resultResponse struct {
	TestID     string    `json:"test_id"`
	TestName   string    `json:"test_name"`
	Status     string    `json:"status"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMS int64     `json:"duration_ms"`
	RetryCount int       `json:"retry_count"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode control response", "err", err)
	}
}
