package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// AsyncFileSink writes forwarded entries to a file as JSON lines without
// blocking the execution units that produce them. Entries are dropped when
// the queue is full; forwarding is best-effort by contract.
type AsyncFileSink struct {
	file  *os.File
	queue chan Entry
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewAsyncFileSink creates the sink file and starts the background writer.
func NewAsyncFileSink(path string) (*AsyncFileSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink file %s: %w", path, err)
	}

	s := &AsyncFileSink{
		file:  file,
		queue: make(chan Entry, 100),
	}

	s.wg.Add(1)
	go s.processQueue()

	return s, nil
}

// Forward queues an entry for writing. It never blocks: a full queue or a
// closed sink drops the entry and reports an error the caller is free to
// ignore.
func (s *AsyncFileSink) Forward(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("sink is closed")
	}

	select {
	case s.queue <- e:
		return nil
	default:
		return fmt.Errorf("sink queue is full, entry dropped")
	}
}

func (s *AsyncFileSink) processQueue() {
	defer s.wg.Done()

	enc := json.NewEncoder(s.file)
	for e := range s.queue {
		if err := enc.Encode(e); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing sink entry: %v\n", err)
		}
	}
}

// Close stops the writer, flushes queued entries and closes the file.
func (s *AsyncFileSink) Close() error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.file.Close()
}
