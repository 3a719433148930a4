package aggregator

import (
	"sort"
	"strings"

	"audio-insights-go/internal/types"
)

type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Summary is the roll-up shown on the insights dashboard.
type Summary struct {
	TotalJobs       int                         `json:"total_jobs"`
	ByStatus        map[types.Status]int        `json:"by_status"`
	BySentiment     map[types.Sentiment]int     `json:"by_sentiment"`
	SentimentShare  map[types.Sentiment]float64 `json:"sentiment_share"`
	FailureKinds    map[types.ErrorKind]int     `json:"failure_kinds"`
	TopTopics       []TopicCount                `json:"top_topics"`
	ActionItemTotal int                         `json:"action_item_total"`
}

// Aggregate folds jobs into a Summary. Topics are counted case-insensitively
// and reported under their first-seen spelling; at most topN are kept.
func Aggregate(jobs []types.Job, topN int) Summary {
	s := Summary{
		TotalJobs:      len(jobs),
		ByStatus:       map[types.Status]int{},
		BySentiment:    map[types.Sentiment]int{},
		SentimentShare: map[types.Sentiment]float64{},
		FailureKinds:   map[types.ErrorKind]int{},
		TopTopics:      []TopicCount{},
	}
	topics := map[string]*TopicCount{}
	withInsight := 0
	for _, j := range jobs {
		s.ByStatus[j.Status]++
		if j.Error != nil {
			s.FailureKinds[j.Error.Kind]++
		}
		if j.Insight == nil {
			continue
		}
		withInsight++
		s.BySentiment[j.Insight.Sentiment]++
		s.ActionItemTotal += len(j.Insight.ActionItems)
		for _, t := range j.Insight.Topics {
			key := strings.ToLower(strings.TrimSpace(t))
			if key == "" {
				continue
			}
			if tc, ok := topics[key]; ok {
				tc.Count++
			} else {
				topics[key] = &TopicCount{Topic: t, Count: 1}
			}
		}
	}
	for k, n := range s.BySentiment {
		s.SentimentShare[k] = float64(n) / float64(withInsight)
	}
	for _, tc := range topics {
		s.TopTopics = append(s.TopTopics, *tc)
	}
	sort.Slice(s.TopTopics, func(i, k int) bool {
		if s.TopTopics[i].Count != s.TopTopics[k].Count {
			return s.TopTopics[i].Count > s.TopTopics[k].Count
		}
		return strings.ToLower(s.TopTopics[i].Topic) < strings.ToLower(s.TopTopics[k].Topic)
	})
	if topN > 0 && len(s.TopTopics) > topN {
		s.TopTopics = s.TopTopics[:topN]
	}
	return s
}
