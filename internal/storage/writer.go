package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// WriteJob is a unit of work to execute against the database.
type WriteJob struct {
	// Key names the row the job writes. Within one batch only the last job
	// for a non-empty key runs.
	Key  string
	Exec func(ctx context.Context, db Execer) error

	done chan struct{}
}

// BatchWriter collects write jobs and flushes them in batches.
type BatchWriter struct {
	db        Execer
	jobs      chan WriteJob
	batchSize int
	flushMs   int
	wg        sync.WaitGroup
}

func NewBatchWriter(db Execer, bufferSize, batchSize, flushMs int) *BatchWriter {
	w := &BatchWriter{
		db:        db,
		jobs:      make(chan WriteJob, bufferSize),
		batchSize: batchSize,
		flushMs:   flushMs,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue queues job without blocking. It reports false when the queue is full
// and the job was dropped.
func (w *BatchWriter) Enqueue(job WriteJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		log.Warn().Str("key", job.Key).Msg("write queue full, dropping job")
		return false
	}
}

// Sync waits until every job enqueued before it has been executed.
func (w *BatchWriter) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case w.jobs <- WriteJob{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *BatchWriter) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(w.flushMs) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]WriteJob, 0, w.batchSize)

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				w.flush(batch)
				return
			}
			if job.done != nil {
				w.flush(batch)
				batch = batch[:0]
				close(job.done)
				continue
			}
			batch = append(batch, job)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *BatchWriter) flush(batch []WriteJob) {
	if len(batch) == 0 {
		return
	}

	last := make(map[string]int, len(batch))
	for i, job := range batch {
		if job.Key != "" {
			last[job.Key] = i
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i, job := range batch {
		if job.Key != "" && last[job.Key] != i {
			continue
		}
		if err := job.Exec(ctx, w.db); err != nil {
			log.Error().Err(err).Str("key", job.Key).Msg("write job failed")
		}
	}
}

// Shutdown flushes pending jobs and stops the writer. Enqueue must not be
// called afterwards.
func (w *BatchWriter) Shutdown() {
	close(w.jobs)
	w.wg.Wait()
}
