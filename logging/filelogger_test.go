package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_DirectoryLayout(t *testing.T) {
	base := t.TempDir()
	fl, err := NewFileLogger(base, "run-abc")
	require.NoError(t, err)

	assert.Equal(t, "run-abc", fl.RunID())
	assert.Equal(t, filepath.Join(base, "run-abc"), fl.RunDir())
	assert.DirExists(t, filepath.Join(fl.RunDir(), "passed"))
	assert.DirExists(t, filepath.Join(fl.RunDir(), "failed"))

	require.NoError(t, fl.Complete())
}

func TestFileLogger_RequiresRunID(t *testing.T) {
	_, err := NewFileLogger(t.TempDir(), "")
	require.Error(t, err)
}

func TestFileLogger_WriteCaseLog(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir(), "run-1")
	require.NoError(t, err)

	require.NoError(t, fl.WriteCaseLog("good case", true, "all fine\n"))
	require.NoError(t, fl.WriteCaseLog("bad/case:name", false, "it broke\n"))

	passed, err := os.ReadFile(filepath.Join(fl.RunDir(), "passed", "good_case.log"))
	require.NoError(t, err)
	assert.Equal(t, "all fine\n", string(passed))

	failed, err := os.ReadFile(filepath.Join(fl.RunDir(), "failed", "bad_case_name.log"))
	require.NoError(t, err)
	assert.Equal(t, "it broke\n", string(failed))

	require.NoError(t, fl.Complete())
}

func TestFileLogger_SummaryAndCompletionMarker(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir(), "run-2")
	require.NoError(t, err)

	require.NoError(t, fl.WriteSummary("Total: 3, Passed: 3, Failed: 0\n"))
	require.NoError(t, fl.Complete())

	summary, err := os.ReadFile(filepath.Join(fl.RunDir(), "summary.log"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Passed: 3")
	assert.FileExists(t, filepath.Join(fl.RunDir(), "run.complete"))
}

func TestFileLogger_SinkCollectsForwardedEntries(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir(), "run-3")
	require.NoError(t, err)

	sink := fl.Sink()
	require.NoError(t, sink.Forward(Entry{Level: LevelWarn, Message: "first warning"}))
	require.NoError(t, sink.Forward(Entry{Level: LevelError, Message: "then an error"}))

	// Close flushes the queue.
	require.NoError(t, fl.Complete())

	f, err := os.Open(filepath.Join(fl.RunDir(), "warnings.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "first warning", entries[0].Message)
	assert.Equal(t, LevelError, entries[1].Level)
}

func TestAsyncFileSink_RejectsAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.jsonl")
	s, err := NewAsyncFileSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Forward(Entry{Level: LevelWarn, Message: "in time"}))
	require.NoError(t, s.Close())

	err = s.Forward(Entry{Level: LevelWarn, Message: "too late"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
