package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"audio-insights-go/internal/types"
)

const (
	DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"

	systemPrompt = "You are an expert text analyst. Respond ONLY with a valid JSON object containing insights."
)

// BuildPrompt asks for the insight fields as one strict JSON object.
func BuildPrompt(transcript string) string {
	prompt := `You are an expert text analyzer. Analyze the following call transcript and provide insights in a strict JSON format.

Transcript: %q

Rules:
- Be concise but informative
- Identify the key themes and subjects as short topic labels
- Extract actionable follow-ups; use an empty list if there are none
- Keep the summary under 100 words
- If the text appears to be a test message, indicate that in the topics

Required JSON structure:
{
    "summary": "Brief but meaningful summary",
    "topics": ["Main subject", "Secondary subject"],
    "sentiment": "positive/negative/neutral",
    "action_items": ["Action 1", "Action 2"],
    "language": "en/es/etc"
}

Respond ONLY with that JSON object. Do not wrap it in backticks.
`
	return fmt.Sprintf(prompt, transcript)
}

type OpenAIConfig struct {
	Name                 string
	BaseURL              string
	APIKey               string
	Model                string
	Temperature          float64
	MaxTokens            int
	Timeout              time.Duration
	MaxElapsed           time.Duration
	NonRetryableStatuses []int
}

// OpenAIProvider calls an OpenAI-compatible /chat/completions endpoint.
type OpenAIProvider struct {
	cfg          OpenAIConfig
	client       *http.Client
	nonRetryable map[int]bool
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-70b-versatile"
	}
	if cfg.Name == "" {
		cfg.Name = "openai:" + cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	statuses := cfg.NonRetryableStatuses
	if statuses == nil {
		statuses = DefaultNonRetryableStatuses
	}
	nr := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		nr[s] = true
	}
	return &OpenAIProvider{cfg: cfg, client: &http.Client{}, nonRetryable: nr}
}

// DefaultNonRetryableStatuses mark requests the upstream will never accept.
var DefaultNonRetryableStatuses = []int{
	http.StatusBadRequest,
	http.StatusRequestEntityTooLarge,
	http.StatusUnprocessableEntity,
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

// reply accepts both the list form and the single "topic" the model
// sometimes falls back to. A JSON null or absent action_items stays nil.
type reply struct {
	Summary     string   `json:"summary"`
	Topics      []string `json:"topics"`
	Topic       string   `json:"topic"`
	Sentiment   string   `json:"sentiment"`
	ActionItems []string `json:"action_items"`
	Language    string   `json:"language"`
}

// insight maps the reply as-is; missing fields stay empty so the chain
// rejects the reply and moves on to the next provider.
func (r reply) insight() types.Insight {
	topics := r.Topics
	if len(topics) == 0 && strings.TrimSpace(r.Topic) != "" {
		topics = []string{r.Topic}
	}
	return types.Insight{
		Summary:     r.Summary,
		Topics:      topics,
		Sentiment:   types.Sentiment(r.Sentiment),
		ActionItems: r.ActionItems,
		Language:    r.Language,
	}
}

func (p *OpenAIProvider) Extract(ctx context.Context, transcript string) (types.Insight, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(map[string]any{
		"model": p.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": BuildPrompt(transcript)},
		},
		"temperature": p.cfg.Temperature,
		"max_tokens":  p.cfg.MaxTokens,
		"stream":      false,
	})
	if err != nil {
		return types.Insight{}, fmt.Errorf("marshal chat request: %w", err)
	}

	var out reply
	var last *Error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			last = classifyTransport(p.Name(), err)
			if ctx.Err() != nil {
				return backoff.Permanent(last)
			}
			return last
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			last = classifyTransport(p.Name(), err)
			if ctx.Err() != nil {
				return backoff.Permanent(last)
			}
			return last
		}

		if resp.StatusCode >= 500 {
			last = retryable(p.Name(), "upstream status "+strconv.Itoa(resp.StatusCode), nil)
			return last
		}
		if resp.StatusCode >= 300 {
			last = &Error{
				Provider:  p.Name(),
				Reason:    "upstream rejected request with status " + strconv.Itoa(resp.StatusCode),
				Retryable: !p.nonRetryable[resp.StatusCode],
			}
			return backoff.Permanent(last)
		}

		// choices[0].message.content first, then any object in a bare body
		raw, envelope := extractContentFromChoices(body)
		if !envelope {
			raw = extractJSON(string(body))
		}
		if raw == "" {
			last = retryable(p.Name(), "no JSON found in model output", nil)
			return backoff.Permanent(last)
		}
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			last = retryable(p.Name(), "model output is not valid JSON", err)
			return backoff.Permanent(last)
		}
		last = nil
		return nil
	}

	if err := backoff.Retry(op, retryPolicy(ctx, p.cfg.MaxElapsed)); err != nil {
		if last != nil {
			return types.Insight{}, last
		}
		var perr *Error
		if errors.As(err, &perr) {
			return types.Insight{}, perr
		}
		return types.Insight{}, classifyTransport(p.Name(), err)
	}
	return out.insight(), nil
}

func retryPolicy(ctx context.Context, maxElapsed time.Duration) backoff.BackOffContext {
	if maxElapsed < 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	if maxElapsed == 0 {
		maxElapsed = 15 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = maxElapsed
	return backoff.WithContext(b, ctx)
}

func classifyTransport(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return retryable(provider, "request timed out", err)
	}
	return retryable(provider, "upstream request failed", err)
}

// extractContentFromChoices reads openai-style choices[0].message.content.
// ok is false when body is not a chat completion envelope.
func extractContentFromChoices(body []byte) (string, bool) {
	var obj struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &obj); err != nil || len(obj.Choices) == 0 {
		return "", false
	}
	return extractJSON(obj.Choices[0].Message.Content), true
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```text", "```"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}

// Summarize makes a short local summary from the first two sentences,
// capped at 60 words.
func Summarize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var sentences []string
	start := 0
	for i := 0; i < len(text) && len(sentences) < 2; i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				sentences = append(sentences, strings.TrimSpace(text[start:i+1]))
				start = i + 1
			}
		}
	}
	summary := strings.Join(sentences, " ")
	if summary == "" {
		summary = text
	}
	words := strings.Fields(summary)
	if len(words) > 60 {
		summary = strings.Join(words[:60], " ") + "..."
	}
	return summary
}
