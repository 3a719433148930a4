package types

import "time"

type Status string

const (
	StatusQueued       Status = "queued"
	StatusTranscribing Status = "transcribing"
	StatusExtracting   Status = "extracting"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusTranscribing, StatusExtracting, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type ErrorKind string

const (
	ErrKindTranscription          ErrorKind = "transcription_failed"
	ErrKindTranscriptionExhausted ErrorKind = "transcription_exhausted"
	ErrKindExtraction             ErrorKind = "extraction_failed"
	ErrKindExtractionExhausted    ErrorKind = "extraction_exhausted"
	ErrKindUnexpected             ErrorKind = "unexpected_failure"
)

// ErrorInfo is the user-visible failure descriptor stored on a failed job.
// Reason is human readable and never carries raw provider payloads.
type ErrorInfo struct {
	Kind     ErrorKind `json:"kind"`
	Reason   string    `json:"reason"`
	Provider string    `json:"provider,omitempty"`
}

type Insight struct {
	Summary     string    `json:"summary" validate:"required"`
	Topics      []string  `json:"topics" validate:"required,min=1,dive,required"`
	Sentiment   Sentiment `json:"sentiment" validate:"required,oneof=positive neutral negative"`
	ActionItems []string  `json:"action_items" validate:"dive,required"`
	Language    string    `json:"language,omitempty"`
}

type Job struct {
	ID         string     `json:"id"`
	AudioRef   string     `json:"audio_ref"`
	Filename   string     `json:"filename,omitempty"`
	Uploaded   bool       `json:"uploaded,omitempty"`
	Status     Status     `json:"status"`
	Transcript *string    `json:"transcript,omitempty"`
	Insight    *Insight   `json:"insight,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
