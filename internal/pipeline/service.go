package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/queue"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/types"
)

var ErrEmptyAudioRef = errors.New("audio reference is required")

// Service accepts audio references and reports job state.
type Service struct {
	store store.Store
	queue *queue.Queue
	log   *logger.Logger
	now   func() time.Time
	newID func() string
}

func NewService(st store.Store, q *queue.Queue, log *logger.Logger) *Service {
	return &Service{
		store: st,
		queue: q,
		log:   log.Component("service"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Submit records a queued job and enqueues its id. The job is persisted
// before it becomes visible to workers.
func (s *Service) Submit(ctx context.Context, audioRef, filename string) (string, error) {
	return s.submit(ctx, audioRef, filename, false)
}

// SubmitUpload is Submit for audio the service stored itself. Only such
// jobs own their file, so only they remove it on delete.
func (s *Service) SubmitUpload(ctx context.Context, audioRef, filename string) (string, error) {
	return s.submit(ctx, audioRef, filename, true)
}

func (s *Service) submit(ctx context.Context, audioRef, filename string, uploaded bool) (string, error) {
	audioRef = strings.TrimSpace(audioRef)
	if audioRef == "" {
		return "", ErrEmptyAudioRef
	}
	id := s.newID()
	job := types.NewJob(id, audioRef, filename, s.now())
	job.Uploaded = uploaded
	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, id); err != nil {
		// the job would otherwise sit queued forever
		_, ferr := s.store.Update(context.WithoutCancel(ctx), id, func(j *types.Job) error {
			return j.Fail(types.ErrorInfo{Kind: types.ErrKindUnexpected, Reason: "job could not be queued"}, s.now())
		})
		if ferr != nil {
			s.log.WithJob(id).WithError(ferr).Error("could not mark unqueued job failed")
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.log.WithJob(id).WithField("audio_ref", audioRef).Info("job submitted")
	return id, nil
}

func (s *Service) Status(ctx context.Context, id string) (types.Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.Filter) ([]types.Job, error) {
	return s.store.List(ctx, f)
}

// Delete removes a job record. Jobs still in flight cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) (types.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return types.Job{}, err
	}
	if !job.Status.Terminal() {
		return job, ErrJobActive
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return types.Job{}, err
	}
	return job, nil
}

var ErrJobActive = errors.New("job is still being processed")

func (s *Service) QueueLen() int { return s.queue.Len() }
