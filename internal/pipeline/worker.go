package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/processor"
	"audio-insights-go/internal/queue"
)

type worker struct {
	id   int
	pool *Pool
	log  *logger.Logger
}

func (w *worker) run(ctx context.Context) {
	w.log.Debug("worker started")
	defer w.log.Debug("worker stopped")
	for {
		id, err := w.pool.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			w.log.WithError(err).Warn("dequeue failed")
			continue
		}
		// a dequeued id is always carried to a terminal state
		w.handle(context.WithoutCancel(ctx), id)
	}
}

// handle processes one job. Panics and unmodelled errors become a generic
// failure so the loop keeps going.
func (w *worker) handle(ctx context.Context, id string) {
	log := w.log.WithJob(id)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Error(fmt.Sprintf("panic processing job: %v", r))
			w.failUnexpected(ctx, id)
		}
	}()

	job, err := w.pool.proc.Process(ctx, id)
	var uerr *processor.UnreconciledError
	switch {
	case err == nil:
		w.pool.metrics.JobCompleted(ctx, job.Status)
	case errors.Is(err, processor.ErrSkipped):
	case errors.As(err, &uerr):
		w.unreconciled(ctx, uerr)
	default:
		log.WithError(err).Error("unexpected failure processing job")
		w.failUnexpected(ctx, id)
	}
}

func (w *worker) failUnexpected(ctx context.Context, id string) {
	job, err := w.pool.proc.FailUnexpected(ctx, id)
	var uerr *processor.UnreconciledError
	switch {
	case err == nil:
		w.pool.metrics.JobCompleted(ctx, job.Status)
	case errors.As(err, &uerr):
		w.unreconciled(ctx, uerr)
	default:
		w.log.WithJob(id).WithError(err).Error("could not mark job failed")
	}
}

func (w *worker) unreconciled(ctx context.Context, err *processor.UnreconciledError) {
	w.log.WithJob(err.JobID).WithField("step", err.Step).WithError(err.Err).Error("job state unreconciled")
	w.pool.metrics.JobUnreconciled(ctx)
}
