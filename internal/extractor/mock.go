package extractor

import (
	"context"
	"strings"
	"sync/atomic"

	"audio-insights-go/internal/types"
)

// MockProvider returns a deterministic insight built from the transcript.
type MockProvider struct {
	ProviderName string
	Insight      *types.Insight
	Err          error
	Fn           func(ctx context.Context, transcript string) (types.Insight, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

func (m *MockProvider) Extract(ctx context.Context, transcript string) (types.Insight, error) {
	m.calls.Add(1)
	switch {
	case m.Fn != nil:
		return m.Fn(ctx, transcript)
	case m.Err != nil:
		return types.Insight{}, m.Err
	case m.Insight != nil:
		return m.Insight.Clone(), nil
	}

	in := types.Insight{
		Summary:     Summarize(transcript),
		Topics:      []string{"general"},
		Sentiment:   types.SentimentNeutral,
		ActionItems: []string{},
		Language:    "en",
	}
	lower := strings.ToLower(transcript)
	if strings.Contains(lower, "refund") || strings.Contains(lower, "pricing") || strings.Contains(lower, "issue") {
		in.Topics = []string{"billing"}
		in.Sentiment = types.SentimentNegative
		in.ActionItems = []string{"Follow up with the customer about the refund"}
	}
	return in, nil
}
