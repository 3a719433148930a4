// Package processor drives one job through the pipeline state machine:
// queued -> transcribing -> extracting -> succeeded, or failed from any
// non-terminal state.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"audio-insights-go/internal/extractor"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/transcription"
	"audio-insights-go/internal/types"
)

// ErrSkipped is returned when the dequeued job is no longer queued.
var ErrSkipped = errors.New("job is not queued")

// UnreconciledError means a state change could not be persisted before the
// retry budget ran out. The stored job may lag behind what happened.
type UnreconciledError struct {
	JobID string
	Step  string
	Err   error
}

func (e *UnreconciledError) Error() string {
	return fmt.Sprintf("job %s: persist %s: %v", e.JobID, e.Step, e.Err)
}

func (e *UnreconciledError) Unwrap() error { return e.Err }

type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (transcription.Result, error)
}

type Extractor interface {
	Extract(ctx context.Context, transcript string) (extractor.Result, error)
}

type Processor struct {
	store             store.Store
	transcriber       Transcriber
	extractor         Extractor
	log               *logger.Logger
	persistMaxElapsed time.Duration
	now               func() time.Time
}

type Option func(*Processor)

// WithPersistMaxElapsed bounds how long store failures are retried.
func WithPersistMaxElapsed(d time.Duration) Option {
	return func(p *Processor) { p.persistMaxElapsed = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func New(st store.Store, tr Transcriber, ex Extractor, log *logger.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:             st,
		transcriber:       tr,
		extractor:         ex,
		log:               log.Component("processor"),
		persistMaxElapsed: 30 * time.Second,
		now:               time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs every step for id and returns the terminal job. Modelled
// provider failures end in a failed job with a nil error; an error return
// means the job was skipped, could not be persisted, or hit a failure the
// providers did not model.
func (p *Processor) Process(ctx context.Context, id string) (types.Job, error) {
	log := p.log.WithJob(id)

	job, err := p.persist(ctx, id, "begin transcription", func(j *types.Job) error {
		return j.BeginTranscription(p.now())
	})
	if errors.Is(err, types.ErrInvalidTransition) {
		log.Warn("job is not queued, skipping")
		return types.Job{}, ErrSkipped
	}
	if err != nil {
		return types.Job{}, err
	}

	tr, err := p.transcriber.Transcribe(ctx, job.AudioRef)
	if err != nil {
		info, ok := transcriptionFailure(err)
		if !ok {
			return job, err
		}
		log.WithError(err).Warn("transcription failed")
		return p.fail(ctx, id, info)
	}
	log.With("provider", tr.Provider).Info("transcription complete")

	job, err = p.persist(ctx, id, "store transcript", func(j *types.Job) error {
		return j.CompleteTranscription(tr.Text, p.now())
	})
	if err != nil {
		return types.Job{}, err
	}

	ex, err := p.extractor.Extract(ctx, tr.Text)
	if err != nil {
		info, ok := extractionFailure(err)
		if !ok {
			return job, err
		}
		log.WithError(err).Warn("extraction failed")
		return p.fail(ctx, id, info)
	}

	job, err = p.persist(ctx, id, "store insight", func(j *types.Job) error {
		return j.Succeed(ex.Insight, p.now())
	})
	if err != nil {
		return types.Job{}, err
	}
	log.With("provider", ex.Provider).Info("job succeeded")
	return job, nil
}

// FailUnexpected marks id failed with the generic descriptor used for
// panics and unmodelled errors.
func (p *Processor) FailUnexpected(ctx context.Context, id string) (types.Job, error) {
	return p.fail(ctx, id, types.ErrorInfo{
		Kind:   types.ErrKindUnexpected,
		Reason: "unexpected failure while processing the job",
	})
}

func (p *Processor) fail(ctx context.Context, id string, info types.ErrorInfo) (types.Job, error) {
	return p.persist(ctx, id, "store failure", func(j *types.Job) error {
		return j.Fail(info, p.now())
	})
}

// persist applies mutate through the store, retrying only backend
// failures. Mutate errors are returned at once.
func (p *Processor) persist(ctx context.Context, id, step string, mutate func(*types.Job) error) (types.Job, error) {
	var job types.Job
	op := func() error {
		var err error
		job, err = p.store.Update(ctx, id, mutate)
		var serr *store.StoreError
		if err != nil && !errors.As(err, &serr) {
			return backoff.Permanent(err)
		}
		if err != nil {
			p.log.WithJob(id).WithError(err).Warn("persist failed, retrying")
		}
		return err
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.persistMaxElapsed > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 100 * time.Millisecond
		eb.MaxElapsedTime = p.persistMaxElapsed
		b = eb
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	var serr *store.StoreError
	if errors.As(err, &serr) {
		return types.Job{}, &UnreconciledError{JobID: id, Step: step, Err: err}
	}
	return job, err
}

func transcriptionFailure(err error) (types.ErrorInfo, bool) {
	var ex *transcription.ExhaustedError
	if errors.As(err, &ex) {
		info := types.ErrorInfo{Kind: types.ErrKindTranscriptionExhausted, Reason: "transcription failed: all providers failed"}
		if ex.Last != nil {
			info.Reason += " (last: " + ex.Last.Reason + ")"
			info.Provider = ex.Last.Provider
		}
		return info, true
	}
	var perr *transcription.Error
	if errors.As(err, &perr) {
		return types.ErrorInfo{
			Kind:     types.ErrKindTranscription,
			Reason:   "transcription failed: " + perr.Reason,
			Provider: perr.Provider,
		}, true
	}
	return types.ErrorInfo{}, false
}

func extractionFailure(err error) (types.ErrorInfo, bool) {
	var ex *extractor.ExhaustedError
	if errors.As(err, &ex) {
		info := types.ErrorInfo{Kind: types.ErrKindExtractionExhausted, Reason: "extraction failed: all providers failed"}
		if ex.Last != nil {
			info.Reason += " (last: " + ex.Last.Reason + ")"
			info.Provider = ex.Last.Provider
		}
		return info, true
	}
	var perr *extractor.Error
	if errors.As(err, &perr) {
		return types.ErrorInfo{
			Kind:     types.ErrKindExtraction,
			Reason:   "extraction failed: " + perr.Reason,
			Provider: perr.Provider,
		}, true
	}
	return types.ErrorInfo{}, false
}
