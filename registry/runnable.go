package registry

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/runforge/caserunner/logging"
)

const defaultCaptureBytes = 4096

// CommandRunnable executes a shell command as the work item of a test case.
// A zero exit code is success; anything else fails the attempt with the
// tail of the combined output attached to the error.
type CommandRunnable struct {
	Command      []string
	Dir          string
	CaptureBytes int
}

// Run implements types.Runnable. The command inherits the attempt context,
// so the process is killed when the attempt times out or the run stops.
func (c *CommandRunnable) Run(ctx context.Context) error {
	if len(c.Command) == 0 {
		return fmt.Errorf("no command configured")
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = c.Dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tail := c.outputTail(output.Bytes())
		if tail != "" {
			return fmt.Errorf("command failed: %w\noutput: %s", err, tail)
		}
		return fmt.Errorf("command failed: %w", err)
	}

	return nil
}

func (c *CommandRunnable) outputTail(out []byte) string {
	limit := c.CaptureBytes
	if limit <= 0 {
		limit = defaultCaptureBytes
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return logging.CleanOutput(string(bytes.TrimSpace(out)))
}
