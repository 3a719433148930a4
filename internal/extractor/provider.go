// Package extractor turns transcript text into a structured Insight
// through a ranked list of LLM providers.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/types"
)

type Provider interface {
	Name() string
	Extract(ctx context.Context, transcript string) (types.Insight, error)
}

// Error is a modelled extraction failure. Retryable failures hand the
// transcript to the next ranked provider.
type Error struct {
	Provider  string
	Reason    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	name := e.Provider
	if name == "" {
		name = "extractor"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", name, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", name, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func retryable(provider, reason string, err error) *Error {
	return &Error{Provider: provider, Reason: reason, Retryable: true, Err: err}
}

func fatal(provider, reason string, err error) *Error {
	return &Error{Provider: provider, Reason: reason, Retryable: false, Err: err}
}

type ExhaustedError struct {
	Tried []string
	Last  *Error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all extraction providers failed (%s): %v", strings.Join(e.Tried, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

var ErrNoProviders = errors.New("no extraction providers configured")

type Result struct {
	Insight  types.Insight
	Provider string
}

type FailureHook func(ctx context.Context, err *Error)

// Chain tries providers in rank order, normalising and validating each
// reply before accepting it.
type Chain struct {
	providers []Provider
	log       *logger.Logger
	onFailure FailureHook
}

func NewChain(log *logger.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, log: log.Component("extractor")}
}

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

// Extract returns the first valid insight. An empty transcript fails
// before any provider is consulted.
func (c *Chain) Extract(ctx context.Context, transcript string) (Result, error) {
	if len(c.providers) == 0 {
		return Result{}, ErrNoProviders
	}
	if strings.TrimSpace(transcript) == "" {
		return Result{}, fatal("", "transcript is empty", nil)
	}

	tried := make([]string, 0, len(c.providers))
	var last *Error
	for _, p := range c.providers {
		tried = append(tried, p.Name())
		log := c.log.With("provider", p.Name())

		in, err := p.Extract(ctx, transcript)
		if err == nil {
			in = in.Normalize()
			if verr := in.Validate(); verr != nil {
				err = retryable(p.Name(), "provider returned an invalid insight", verr)
			}
		}
		if err == nil {
			log.Debug("insight accepted")
			return Result{Insight: in, Provider: p.Name()}, nil
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
			log.WithError(perr).Warn("extraction failed, not retryable")
			return Result{}, perr
		}
		log.WithError(perr).Warn("extraction failed, trying next provider")
		last = perr
	}
	return Result{}, &ExhaustedError{Tried: tried, Last: last}
}
