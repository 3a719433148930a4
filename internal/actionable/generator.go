package actionable

import (
	"fmt"

	"audio-insights-go/internal/aggregator"
	"audio-insights-go/internal/types"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	negativeThreshold = 0.35
	failureThreshold  = 0.20
)

// Generate turns a summary into follow-up cards, most pressing first.
// It always returns at least one card.
func Generate(s aggregator.Summary) []ActionCard {
	var cards []ActionCard

	if share := s.SentimentShare[types.SentimentNegative]; share >= negativeThreshold {
		card := ActionCard{
			Insight: fmt.Sprintf("High negative sentiment (%.0f%% of analysed calls)", share*100),
			Action:  "Review negative calls and assign owners to the open action items",
			Impact:  "Reduce repeat escalations and churn risk",
		}
		if len(s.TopTopics) > 0 {
			card.Action = fmt.Sprintf("Start with calls about %q, the most frequent topic", s.TopTopics[0].Topic)
		}
		cards = append(cards, card)
	}

	failed := s.ByStatus[types.StatusFailed]
	if s.TotalJobs > 0 {
		if rate := float64(failed) / float64(s.TotalJobs); rate >= failureThreshold {
			cards = append(cards, ActionCard{
				Insight: fmt.Sprintf("%d of %d jobs failed (%.0f%%)", failed, s.TotalJobs, rate*100),
				Action:  "Check provider credentials and audio quality of the failing uploads",
				Impact:  "Restore insight coverage",
			})
		}
	}

	if len(cards) == 0 {
		cards = append(cards, ActionCard{
			Insight: "No strong negative or failure pattern detected",
			Action:  "Monitor and collect more data",
			Impact:  "Low immediate intervention",
		})
	}
	return cards
}
