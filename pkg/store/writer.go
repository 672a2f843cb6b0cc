package store

import (
	"context"
	"sync"
	"time"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/metrics"
)

// AsyncWriter handles asynchronous appends to the performance store. It
// buffers records and writes them in batches so recording an outcome
// never blocks on storage. A failed append is logged and skipped; it is
// never surfaced to the producer.
type AsyncWriter struct {
	store         MetricsStore
	backend       BackendType
	writeChan     chan MetricRecord
	batchSize     int
	flushInterval time.Duration
	workers       int

	wg      sync.WaitGroup
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewAsyncWriter creates a new async writer for the given store.
func NewAsyncWriter(store MetricsStore, backend BackendType, cfg WriterConfig) *AsyncWriter {
	defaults := DefaultConfig().Writer
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushIntervalMs <= 0 {
		cfg.FlushIntervalMs = defaults.FlushIntervalMs
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if backend == "" {
		backend = MemoryBackend
	}

	return &AsyncWriter{
		store:         store,
		backend:       backend,
		writeChan:     make(chan MetricRecord, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
		workers:       cfg.Workers,
		done:          make(chan struct{}),
	}
}

// Start begins the async writer workers.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	logging.Infof("AsyncWriter started with %d workers, buffer size %d, batch size %d",
		w.workers, cap(w.writeChan), w.batchSize)
}

// worker drains records from the channel in batches.
func (w *AsyncWriter) worker(id int) {
	defer w.wg.Done()

	batch := make([]MetricRecord, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		ctx := context.Background()
		for _, rec := range batch {
			if err := w.store.Append(ctx, rec); err != nil {
				metrics.RecordStoreAppend(string(w.backend), "error")
				logging.Warnf("AsyncWriter[%d]: failed to append %s record %s: %v",
					id, rec.Kind, rec.ID, err)
				continue
			}
			metrics.RecordStoreAppend(string(w.backend), "ok")
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-w.writeChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			// Drain remaining records
			for {
				select {
				case rec, ok := <-w.writeChan:
					if !ok {
						flush()
						return
					}
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Enqueue adds a record to the async queue. It reports whether the record
// was accepted; a full buffer drops the record with a warning.
func (w *AsyncWriter) Enqueue(rec MetricRecord) bool {
	select {
	case w.writeChan <- rec:
		return true
	default:
		metrics.RecordStoreAppend(string(w.backend), "dropped")
		logging.Warnf("AsyncWriter: write buffer full, dropping %s record %s", rec.Kind, rec.ID)
		return false
	}
}

// Stop gracefully shuts down the async writer, draining pending records.
func (w *AsyncWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	close(w.writeChan)
	w.wg.Wait()

	logging.Infof("AsyncWriter stopped")
}

// IsRunning returns whether the async writer is running.
func (w *AsyncWriter) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// PendingCount returns the number of buffered records.
func (w *AsyncWriter) PendingCount() int {
	return len(w.writeChan)
}
