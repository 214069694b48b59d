package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	summaryFilename   = "summary.log"
	warningsFilename  = "warnings.jsonl"
	passedDirname     = "passed"
	failedDirname     = "failed"
	completeMarker    = "run.complete"
	logFilePermission = 0o644
)

// FileLogger writes per-run artifacts under <baseDir>/<runID>/: one log file
// per case split into passed/ and failed/, a run summary, and the forwarded
// warn/error entries collected by the run's AsyncFileSink.
type FileLogger struct {
	baseDir string
	runDir  string
	runID   string

	mu   sync.Mutex
	sink *AsyncFileSink
}

// NewFileLogger creates the per-run directory tree and the sink file.
func NewFileLogger(baseDir, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, passedDirname), filepath.Join(runDir, failedDirname)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	sink, err := NewAsyncFileSink(filepath.Join(runDir, warningsFilename))
	if err != nil {
		return nil, err
	}

	return &FileLogger{
		baseDir: baseDir,
		runDir:  runDir,
		runID:   runID,
		sink:    sink,
	}, nil
}

// RunID returns the run this logger writes artifacts for.
func (l *FileLogger) RunID() string {
	return l.runID
}

// RunDir returns the per-run artifact directory.
func (l *FileLogger) RunDir() string {
	return l.runDir
}

// Sink returns the run's forwarding sink for wiring into test loggers.
func (l *FileLogger) Sink() Sink {
	return l.sink
}

// WriteCaseLog writes the formatted log of one case to the passed or failed
// directory depending on its outcome.
func (l *FileLogger) WriteCaseLog(caseName string, passed bool, content string) error {
	dir := failedDirname
	if passed {
		dir = passedDirname
	}

	path := filepath.Join(l.runDir, dir, safeFilename(caseName)+".log")

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.WriteFile(path, []byte(content), logFilePermission); err != nil {
		return fmt.Errorf("failed to write case log %s: %w", path, err)
	}
	return nil
}

// WriteSummary writes the run summary file.
func (l *FileLogger) WriteSummary(summary string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.runDir, summaryFilename)
	if err := os.WriteFile(path, []byte(summary), logFilePermission); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Complete flushes the sink and drops a marker file so consumers can tell a
// finished run directory from an interrupted one.
func (l *FileLogger) Complete() error {
	if err := l.sink.Close(); err != nil {
		return err
	}

	path := filepath.Join(l.runDir, completeMarker)
	if err := os.WriteFile(path, []byte{}, logFilePermission); err != nil {
		return fmt.Errorf("failed to write completion marker: %w", err)
	}
	return nil
}

// safeFilename replaces characters that might be problematic in filenames.
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	)
	return replacer.Replace(s)
}
