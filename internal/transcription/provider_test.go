package transcription

import (
	"context"
	"errors"
	"testing"

	"audio-insights-go/internal/logger"
)

// TestChainFallsBackOnRetryable checks a retryable failure hands over to the next provider.
func TestChainFallsBackOnRetryable(t *testing.T) {
	a := &MockProvider{ProviderName: "a", Err: retryable("a", "upstream status 503", nil)}
	b := &MockProvider{ProviderName: "b", Text: "  hello there  "}

	var seen []string
	chain := NewChain(logger.NewNop(), a, b).OnFailure(func(_ context.Context, err *Error) {
		seen = append(seen, err.Provider)
	})
	res, err := chain.Transcribe(context.Background(), "call.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" || res.Provider != "b" {
		t.Fatalf("result = %+v, want b/hello there", res)
	}
	if len(seen) != 1 || seen[0] != "a" {
		t.Fatalf("failure hook saw %v, want [a]", seen)
	}
}

// TestChainStopsOnNonRetryable checks later providers are never consulted.
func TestChainStopsOnNonRetryable(t *testing.T) {
	a := &MockProvider{ProviderName: "a", Err: fatal("a", "upstream rejected request with status 415", nil)}
	b := &MockProvider{ProviderName: "b"}

	_, err := NewChain(logger.NewNop(), a, b).Transcribe(context.Background(), "call.wav")
	var perr *Error
	if !errors.As(err, &perr) || perr.Retryable || perr.Provider != "a" {
		t.Fatalf("err = %v, want non-retryable error from a", err)
	}
	if b.Calls() != 0 {
		t.Fatalf("b called %d times, want 0", b.Calls())
	}
}

func TestChainExhausted(t *testing.T) {
	a := &MockProvider{ProviderName: "a", Err: retryable("a", "request timed out", nil)}
	b := &MockProvider{ProviderName: "b", Text: "   "}

	_, err := NewChain(logger.NewNop(), a, b).Transcribe(context.Background(), "call.wav")
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(ex.Tried) != 2 || ex.Last.Provider != "b" {
		t.Fatalf("exhausted = %+v", ex)
	}
}

// TestChainUnmodelledError checks foreign errors pass through untouched.
func TestChainUnmodelledError(t *testing.T) {
	boom := errors.New("boom")
	a := &MockProvider{ProviderName: "a", Err: boom}
	b := &MockProvider{ProviderName: "b"}

	_, err := NewChain(logger.NewNop(), a, b).Transcribe(context.Background(), "call.wav")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if b.Calls() != 0 {
		t.Fatalf("b called %d times, want 0", b.Calls())
	}
}

func TestChainNoProviders(t *testing.T) {
	_, err := NewChain(logger.NewNop()).Transcribe(context.Background(), "call.wav")
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

func TestClassifier(t *testing.T) {
	c := NewClassifier(nil)
	for _, tc := range []struct {
		status int
		want   bool
	}{
		{400, false}, {413, false}, {415, false}, {422, false},
		{401, true}, {404, true}, {429, true}, {500, true},
	} {
		if got := c.Retryable(tc.status); got != tc.want {
			t.Errorf("Retryable(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
	if !NewClassifier([]int{}).Retryable(400) {
		t.Fatalf("empty classifier should treat 400 as retryable")
	}
}
