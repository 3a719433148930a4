package extractor

import (
	"context"
	"errors"
	"testing"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/types"
)

func validInsight() *types.Insight {
	return &types.Insight{
		Summary:     " Customer wants a refund. ",
		Topics:      []string{"billing", " "},
		Sentiment:   "Negative",
		ActionItems: []string{"issue refund"},
	}
}

// TestChainNormalizesOutput checks accepted insights are trimmed and lower-cased.
func TestChainNormalizesOutput(t *testing.T) {
	p := &MockProvider{ProviderName: "a", Insight: validInsight()}
	res, err := NewChain(logger.NewNop(), p).Extract(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	in := res.Insight
	if in.Summary != "Customer wants a refund." || in.Sentiment != types.SentimentNegative || len(in.Topics) != 1 {
		t.Fatalf("insight = %+v", in)
	}
}

// TestChainInvalidOutputFallsBack checks a malformed insight is retryable.
func TestChainInvalidOutputFallsBack(t *testing.T) {
	bad := &MockProvider{ProviderName: "a", Insight: &types.Insight{Summary: "x", Topics: []string{"t"}, Sentiment: "angry", ActionItems: []string{}}}
	good := &MockProvider{ProviderName: "b", Insight: validInsight()}

	var failed []string
	chain := NewChain(logger.NewNop(), bad, good).OnFailure(func(_ context.Context, err *Error) {
		failed = append(failed, err.Provider)
	})
	res, err := chain.Extract(context.Background(), "hello")
	if err != nil || res.Provider != "b" {
		t.Fatalf("Extract = %+v, %v", res, err)
	}
	if len(failed) != 1 || failed[0] != "a" {
		t.Fatalf("failures = %v, want [a]", failed)
	}
}

func TestChainEmptyTranscript(t *testing.T) {
	p := &MockProvider{}
	_, err := NewChain(logger.NewNop(), p).Extract(context.Background(), "  ")
	var perr *Error
	if !errors.As(err, &perr) || perr.Retryable {
		t.Fatalf("err = %v, want non-retryable", err)
	}
	if p.Calls() != 0 {
		t.Fatalf("provider called %d times, want 0", p.Calls())
	}
}

func TestChainNonRetryableStops(t *testing.T) {
	a := &MockProvider{ProviderName: "a", Err: fatal("a", "upstream rejected request with status 400", nil)}
	b := &MockProvider{ProviderName: "b"}
	_, err := NewChain(logger.NewNop(), a, b).Extract(context.Background(), "hello")
	var perr *Error
	if !errors.As(err, &perr) || perr.Retryable {
		t.Fatalf("err = %v, want non-retryable", err)
	}
	if b.Calls() != 0 {
		t.Fatalf("b called %d times", b.Calls())
	}
}

func TestChainExhausted(t *testing.T) {
	a := &MockProvider{ProviderName: "a", Err: retryable("a", "request timed out", nil)}
	b := &MockProvider{ProviderName: "b", Err: retryable("b", "upstream status 502", nil)}
	_, err := NewChain(logger.NewNop(), a, b).Extract(context.Background(), "hello")
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Last.Provider != "b" {
		t.Fatalf("err = %v, want exhausted ending at b", err)
	}
}

func TestMockProviderDefault(t *testing.T) {
	in, err := (&MockProvider{}).Extract(context.Background(), "I have a pricing issue. Please refund me. Thanks.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("mock insight invalid: %v", err)
	}
	if in.Summary != "I have a pricing issue. Please refund me." {
		t.Fatalf("summary = %q", in.Summary)
	}
}
