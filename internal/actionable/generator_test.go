package actionable

import (
	"strings"
	"testing"

	"audio-insights-go/internal/aggregator"
	"audio-insights-go/internal/types"
)

func TestGenerateQuiet(t *testing.T) {
	cards := Generate(aggregator.Summary{TotalJobs: 3, ByStatus: map[types.Status]int{types.StatusSucceeded: 3}})
	if len(cards) != 1 || !strings.HasPrefix(cards[0].Insight, "No strong") {
		t.Fatalf("cards = %+v", cards)
	}
}

func TestGenerateFlagsNegativeAndFailures(t *testing.T) {
	s := aggregator.Summary{
		TotalJobs:      4,
		ByStatus:       map[types.Status]int{types.StatusSucceeded: 2, types.StatusFailed: 2},
		SentimentShare: map[types.Sentiment]float64{types.SentimentNegative: 0.5},
		TopTopics:      []aggregator.TopicCount{{Topic: "billing", Count: 2}},
	}
	cards := Generate(s)
	if len(cards) != 2 {
		t.Fatalf("cards = %+v, want 2", cards)
	}
	if !strings.Contains(cards[0].Action, "billing") || !strings.Contains(cards[1].Insight, "2 of 4") {
		t.Fatalf("cards = %+v", cards)
	}
}
