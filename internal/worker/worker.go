// Package worker runs the per-sample stage of deferred uploads in the
// background and records their progress as job records.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/sampleflow/internal/metrics"
	"github.com/dwsmith1983/sampleflow/internal/notify"
	"github.com/dwsmith1983/sampleflow/internal/pipeline"
	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

const (
	// DefaultWorkers is the number of goroutines draining the queue.
	DefaultWorkers = 2
	// DefaultQueueSize bounds the number of uploads waiting for a worker.
	DefaultQueueSize = 32
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Submit after Stop has been called.
	ErrStopped = errors.New("worker stopped")
)

// Processor runs the per-sample stage for an analysed upload.
type Processor interface {
	Process(ctx context.Context, a *pipeline.Analysis) []types.SampleOutcome
}

type task struct {
	job      types.Job
	analysis *pipeline.Analysis
}

// Worker drains a bounded queue of deferred uploads.
type Worker struct {
	processor Processor
	store     provider.Provider
	notifier  notify.Notifier
	metrics   metrics.Recorder
	logger    *slog.Logger
	workers   int
	now       func() time.Time

	mu      sync.RWMutex
	queue   chan task
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Worker. A nil notifier or recorder falls back to a no-op.
func New(proc Processor, store provider.Provider, n notify.Notifier, rec metrics.Recorder, logger *slog.Logger, cfg types.WorkerConfig) *Worker {
	if n == nil {
		n = notify.Noop{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Worker{
		processor: proc,
		store:     store,
		notifier:  n,
		metrics:   rec,
		logger:    logger,
		workers:   workers,
		now:       time.Now,
		queue:     make(chan task, size),
	}
}

// Start launches the worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	w.logger.Info("worker started", "workers", w.workers, "queue_size", cap(w.queue))
}

// Submit records a queued job for a and hands it to the workers. On error
// the caller still owns a and must Close it.
func (w *Worker) Submit(ctx context.Context, a *pipeline.Analysis) (types.Job, error) {
	now := w.now().UTC()
	job := types.Job{
		ID:           ulid.Make().String(),
		Status:       types.JobQueued,
		UserID:       a.Artifact.Owner(),
		ArtifactName: a.Artifact.OriginalName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.store.PutJob(ctx, job); err != nil {
		return types.Job{}, fmt.Errorf("recording job: %w", err)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		w.failJob(ctx, job, ErrStopped)
		return types.Job{}, ErrStopped
	}
	select {
	case w.queue <- task{job: job, analysis: a}:
		w.metrics.SetQueueDepth(len(w.queue))
		return job, nil
	default:
		w.failJob(ctx, job, ErrQueueFull)
		return types.Job{}, ErrQueueFull
	}
}

// Stop cancels the workers, waits for in-flight jobs until ctx expires, and
// fails whatever is still queued. Queued uploads are cleaned up even when the
// wait times out.
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.queue)
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped")
	case <-ctx.Done():
		w.logger.Warn("worker stop timed out, abandoning queued jobs")
	}

	for t := range w.queue {
		w.abandon(ctx, t)
	}
	w.metrics.SetQueueDepth(0)
}

func (w *Worker) isStopped() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

// abandon releases a task that will never run and marks its job failed.
func (w *Worker) abandon(ctx context.Context, t task) {
	t.analysis.Close()
	w.failJob(context.WithoutCancel(ctx), t.job, ErrStopped)
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-w.queue:
			if !ok {
				return
			}
			w.metrics.SetQueueDepth(len(w.queue))
			if w.isStopped() {
				w.abandon(ctx, t)
				continue
			}
			w.run(ctx, id, t)
		}
	}
}

// run processes one job. In-flight work is detached from ctx so shutdown
// does not abandon half-classified samples.
func (w *Worker) run(ctx context.Context, id int, t task) {
	ctx = context.WithoutCancel(ctx)
	defer t.analysis.Close()

	log := w.logger.With("worker", id, "job", t.job.ID, "artifact", t.job.ArtifactName)
	job := t.job
	job.Status = types.JobRunning
	job.UpdatedAt = w.now().UTC()
	if err := w.store.PutJob(ctx, job); err != nil {
		log.Warn("failed to mark job running", "error", err)
	}

	outcomes, err := w.process(ctx, t.analysis)
	job.UpdatedAt = w.now().UTC()
	if err != nil {
		job.Status = types.JobFailed
		job.Error = err.Error()
		log.Error("deferred job failed", "error", err)
	} else {
		job.Status = types.JobCompleted
		job.Results = outcomes
		log.Info("deferred job completed", "samples", len(outcomes))
	}
	w.finish(ctx, job)
}

func (w *Worker) process(ctx context.Context, a *pipeline.Analysis) (outcomes []types.SampleOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing samples: %v", r)
		}
	}()
	outcomes = w.processor.Process(ctx, a)
	if outcomes == nil {
		outcomes = []types.SampleOutcome{}
	}
	return outcomes, nil
}

func (w *Worker) failJob(ctx context.Context, job types.Job, cause error) {
	job.Status = types.JobFailed
	job.Error = cause.Error()
	job.UpdatedAt = w.now().UTC()
	w.finish(ctx, job)
}

// finish stores the terminal job record and publishes its event.
func (w *Worker) finish(ctx context.Context, job types.Job) {
	if err := w.store.PutJob(ctx, job); err != nil {
		w.logger.Error("failed to store job result", "job", job.ID, "error", err)
	}
	event := types.JobEvent{
		JobID:     job.ID,
		Status:    job.Status,
		UserID:    job.UserID,
		Results:   job.Results,
		Error:     job.Error,
		Timestamp: job.UpdatedAt,
	}
	if err := w.notifier.Notify(ctx, event); err != nil {
		w.logger.Warn("failed to publish job event", "job", job.ID, "error", err)
	}
}
