// Package pipeline runs queued jobs through the processor on a pool of
// workers and exposes the Submit/Status surface.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/processor"
	"audio-insights-go/internal/queue"
	"audio-insights-go/internal/types"
)

// Recorder receives terminal job outcomes.
type Recorder interface {
	JobCompleted(ctx context.Context, status types.Status)
	JobUnreconciled(ctx context.Context)
}

type nopRecorder struct{}

func (nopRecorder) JobCompleted(context.Context, types.Status) {}
func (nopRecorder) JobUnreconciled(context.Context)            {}

// ErrNotDrained is returned by Shutdown when workers exited before the
// queue was empty.
var ErrNotDrained = errors.New("worker pool stopped before the queue drained")

// Pool owns N workers reading from one queue.
type Pool struct {
	queue   *queue.Queue
	proc    *processor.Processor
	log     *logger.Logger
	metrics Recorder
	size    int

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

func NewPool(q *queue.Queue, proc *processor.Processor, size int, log *logger.Logger, metrics Recorder) *Pool {
	if size <= 0 {
		size = 1
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Pool{queue: q, proc: proc, size: size, log: log.Component("pipeline"), metrics: metrics}
}

func (p *Pool) Size() int { return p.size }

// Start launches the workers. Cancelling ctx only stops a worker once the
// queue is empty; a job already dequeued always runs to its terminal state.
// Callers that want a full drain should stop intake through Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.log.WithField("workers", p.size).Info("starting worker pool")
	for i := 0; i < p.size; i++ {
		w := &worker{id: i, pool: p, log: p.log.With("worker", i)}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
}

// Shutdown stops intake, lets workers drain what is queued and waits for
// them or for ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.queue.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if n := p.queue.Len(); n > 0 {
			p.log.WithField("pending", n).Error("workers stopped with jobs still queued")
			return fmt.Errorf("%w: %d jobs still queued", ErrNotDrained, n)
		}
		p.log.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		p.log.WithField("pending", p.queue.Len()).Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}
