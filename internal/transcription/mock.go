package transcription

import (
	"context"
	"sync/atomic"

	"audio-insights-go/internal/audio"
)

const MockTranscript = "Customer says they face pricing issues and want a refund before the renewal date."

// MockProvider is an offline provider. With a Source set it reads the
// audio first so missing or empty files fail the way real providers do.
type MockProvider struct {
	ProviderName string
	Source       audio.Source
	Text         string
	Err          error
	Fn           func(ctx context.Context, audioRef string) (string, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

func (m *MockProvider) Transcribe(ctx context.Context, audioRef string) (string, error) {
	m.calls.Add(1)
	if m.Source != nil {
		data, err := audio.ReadAll(ctx, m.Source, audioRef)
		if err != nil {
			return "", classifyTransport(m.Name(), err)
		}
		if len(data) == 0 {
			return "", fatal(m.Name(), "audio file is empty", nil)
		}
	}
	if m.Fn != nil {
		return m.Fn(ctx, audioRef)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Text == "" {
		return MockTranscript, nil
	}
	return m.Text, nil
}
