package transcription

import (
	"context"
	"errors"
	"net"
	"net/http"

	"audio-insights-go/internal/audio"
)

// DefaultNonRetryableStatuses are upstream HTTP statuses that mean the
// audio itself was rejected; trying another provider will not help.
var DefaultNonRetryableStatuses = []int{
	http.StatusBadRequest,
	http.StatusRequestEntityTooLarge,
	http.StatusUnsupportedMediaType,
	http.StatusUnprocessableEntity,
}

// Classifier decides which upstream HTTP statuses are terminal for the
// step. Everything not listed is retryable.
type Classifier struct {
	NonRetryable map[int]bool
}

func NewClassifier(statuses []int) Classifier {
	if statuses == nil {
		statuses = DefaultNonRetryableStatuses
	}
	m := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		m[s] = true
	}
	return Classifier{NonRetryable: m}
}

func (c Classifier) Retryable(status int) bool {
	return !c.NonRetryable[status]
}

// classifyTransport maps transport and audio-read errors onto *Error.
func classifyTransport(provider string, err error) *Error {
	var ne net.Error
	switch {
	case errors.Is(err, audio.ErrNotFound):
		return fatal(provider, "audio file not found", err)
	case errors.Is(err, audio.ErrTooLarge):
		return fatal(provider, "audio file too large", err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return retryable(provider, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return retryable(provider, "request canceled", err)
	default:
		return retryable(provider, "upstream request failed", err)
	}
}
