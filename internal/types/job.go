package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not an edge of
// the job state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// NewJob creates a queued job.
func NewJob(id, audioRef, filename string, now time.Time) Job {
	now = now.UTC()
	return Job{
		ID:        id,
		AudioRef:  audioRef,
		Filename:  filename,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransition reports whether from -> to is an allowed edge:
// queued -> transcribing -> extracting -> succeeded, or any non-terminal
// state -> failed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusTranscribing || to == StatusFailed
	case StatusTranscribing:
		return to == StatusExtracting || to == StatusFailed
	case StatusExtracting:
		return to == StatusSucceeded || to == StatusFailed
	default:
		return false
	}
}

// Transition moves the job to status to and advances UpdatedAt.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	now = now.UTC()
	if !now.After(j.UpdatedAt) {
		// keep updated_at strictly advancing even on coarse clocks
		now = j.UpdatedAt.Add(time.Nanosecond)
	}
	j.UpdatedAt = now
	return nil
}

// BeginTranscription moves a queued job to transcribing.
func (j *Job) BeginTranscription(now time.Time) error {
	return j.Transition(StatusTranscribing, now)
}

// CompleteTranscription stores the transcript and moves to extracting.
func (j *Job) CompleteTranscription(transcript string, now time.Time) error {
	if err := j.Transition(StatusExtracting, now); err != nil {
		return err
	}
	j.Transcript = &transcript
	return nil
}

// Succeed attaches a validated insight and moves to succeeded.
func (j *Job) Succeed(insight Insight, now time.Time) error {
	if err := insight.Validate(); err != nil {
		return err
	}
	if j.Transcript == nil {
		return fmt.Errorf("%w: succeeded without transcript", ErrInvalidTransition)
	}
	if err := j.Transition(StatusSucceeded, now); err != nil {
		return err
	}
	j.Insight = &insight
	return nil
}

// Fail records info and moves to failed.
func (j *Job) Fail(info ErrorInfo, now time.Time) error {
	if err := j.Transition(StatusFailed, now); err != nil {
		return err
	}
	j.Error = &info
	return nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j Job) Clone() Job {
	out := j
	if j.Transcript != nil {
		t := *j.Transcript
		out.Transcript = &t
	}
	if j.Insight != nil {
		ins := j.Insight.Clone()
		out.Insight = &ins
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}
