package worker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AsyncLogEntry is one record of a completed request, the narrow
// shape an out-of-process async-log writer consumes.
type AsyncLogEntry struct {
	ID        uuid.UUID
	Op        string
	Result    string
	Key       string
	Timestamp time.Time
}

// AsyncLogWriter is the producer interface a worker logs completed
// requests through; the actual persistence (disk, Kafka, whatever)
// lives outside this module.
type AsyncLogWriter interface {
	Log(entry AsyncLogEntry) error
}

// MemoryAsyncLogWriter is a small MPSC-queue-backed AsyncLogWriter
// implementation suitable for tests and single-process deployments:
// entries accumulate in memory until Drain is called.
type MemoryAsyncLogWriter struct {
	mu      sync.Mutex
	entries []AsyncLogEntry
}

// NewMemoryAsyncLogWriter builds an empty writer.
func NewMemoryAsyncLogWriter() *MemoryAsyncLogWriter {
	return &MemoryAsyncLogWriter{}
}

// Log implements AsyncLogWriter.
func (w *MemoryAsyncLogWriter) Log(entry AsyncLogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	return nil
}

// Drain returns and clears every entry logged so far.
func (w *MemoryAsyncLogWriter) Drain() []AsyncLogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.entries
	w.entries = nil
	return out
}
