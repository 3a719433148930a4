// Package transcription turns stored audio into transcript text through a
// ranked list of speech-to-text providers.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"audio-insights-go/internal/logger"
)

// Provider is one concrete speech-to-text backend.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audioRef string) (string, error)
}

// Error is a modelled provider failure. Retryable failures move the chain
// on to the next ranked provider; the others end the step.
type Error struct {
	Provider  string
	Reason    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func retryable(provider, reason string, err error) *Error {
	return &Error{Provider: provider, Reason: reason, Retryable: true, Err: err}
}

func fatal(provider, reason string, err error) *Error {
	return &Error{Provider: provider, Reason: reason, Retryable: false, Err: err}
}

// ExhaustedError is returned when every ranked provider failed retryably.
type ExhaustedError struct {
	Tried []string
	Last  *Error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all transcription providers failed (%s): %v", strings.Join(e.Tried, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// ErrNoProviders is returned by a chain with nothing configured.
var ErrNoProviders = errors.New("no transcription providers configured")

// Result is the accepted output of a chain run.
type Result struct {
	Text     string
	Provider string
}

// FailureHook observes every provider failure a chain handles.
type FailureHook func(ctx context.Context, err *Error)

// Chain tries providers in rank order.
type Chain struct {
	providers []Provider
	log       *logger.Logger
	onFailure FailureHook
}

func NewChain(log *logger.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, log: log.Component("transcription")}
}

// OnFailure registers a hook called for each provider failure.
func (c *Chain) OnFailure(h FailureHook) *Chain {
	c.onFailure = h
	return c
}

func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Transcribe returns the first successful transcript. A non-retryable
// *Error stops the chain at once; an error that is not an *Error is
// returned unchanged for the caller to treat as unexpected.
func (c *Chain) Transcribe(ctx context.Context, audioRef string) (Result, error) {
	if len(c.providers) == 0 {
		return Result{}, ErrNoProviders
	}
	tried := make([]string, 0, len(c.providers))
	var last *Error
	for _, p := range c.providers {
		tried = append(tried, p.Name())
		log := c.log.With("provider", p.Name())

		text, err := p.Transcribe(ctx, audioRef)
		if err == nil && strings.TrimSpace(text) == "" {
			err = retryable(p.Name(), "provider returned an empty transcript", nil)
		}
		if err == nil {
			log.Debug("transcription accepted")
			return Result{Text: strings.TrimSpace(text), Provider: p.Name()}, nil
		}

		var perr *Error
		if !errors.As(err, &perr) {
			return Result{}, err
		}
		if perr.Provider == "" {
			perr.Provider = p.Name()
		}
		if c.onFailure != nil {
			c.onFailure(ctx, perr)
		}
		if !perr.Retryable {
			log.WithError(perr).Warn("transcription failed, not retryable")
			return Result{}, perr
		}
		log.WithError(perr).Warn("transcription failed, trying next provider")
		last = perr
	}
	return Result{}, &ExhaustedError{Tried: tried, Last: last}
}
