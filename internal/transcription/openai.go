package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"audio-insights-go/internal/audio"
)

const (
	DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"
	defaultTimeout       = 60 * time.Second
	defaultMaxElapsed    = 10 * time.Second
	maxErrorBody         = 512
)

// OpenAIConfig configures a provider speaking the OpenAI-compatible
// /audio/transcriptions API (Groq, OpenAI, local whisper servers).
type OpenAIConfig struct {
	Name                 string
	BaseURL              string
	APIKey               string
	Model                string
	Language             string
	Temperature          float64
	Timeout              time.Duration
	MaxElapsed           time.Duration
	NonRetryableStatuses []int
}

type OpenAIProvider struct {
	cfg        OpenAIConfig
	client     *http.Client
	src        audio.Source
	classifier Classifier
}

func NewOpenAIProvider(cfg OpenAIConfig, src audio.Source) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Name == "" {
		cfg.Name = "openai:" + cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &OpenAIProvider{
		cfg:        cfg,
		client:     &http.Client{},
		src:        src,
		classifier: NewClassifier(cfg.NonRetryableStatuses),
	}
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

func (p *OpenAIProvider) Transcribe(ctx context.Context, audioRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	data, err := audio.ReadAll(ctx, p.src, audioRef)
	if err != nil {
		return "", classifyTransport(p.Name(), err)
	}
	if len(data) == 0 {
		return "", fatal(p.Name(), "audio file is empty", nil)
	}

	body, contentType, err := p.form(audioRef, data)
	if err != nil {
		return "", fmt.Errorf("build transcription form: %w", err)
	}

	var out struct {
		Text string `json:"text"`
	}
	var last *Error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/audio/transcriptions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
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
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			last = classifyTransport(p.Name(), err)
			if ctx.Err() != nil {
				return backoff.Permanent(last)
			}
			return last
		}

		if resp.StatusCode >= 500 {
			last = retryable(p.Name(), "upstream status "+strconv.Itoa(resp.StatusCode), bodyErr(raw))
			return last
		}
		if resp.StatusCode >= 300 {
			last = &Error{
				Provider:  p.Name(),
				Reason:    "upstream rejected request with status " + strconv.Itoa(resp.StatusCode),
				Retryable: p.classifier.Retryable(resp.StatusCode),
				Err:       bodyErr(raw),
			}
			return backoff.Permanent(last)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			last = retryable(p.Name(), "malformed upstream response", err)
			return backoff.Permanent(last)
		}
		last = nil
		return nil
	}

	if err := backoff.Retry(op, retryPolicy(ctx, p.cfg.MaxElapsed)); err != nil {
		if last != nil {
			return "", last
		}
		var perr *Error
		if errors.As(err, &perr) {
			return "", perr
		}
		return "", classifyTransport(p.Name(), err)
	}
	return out.Text, nil
}

func (p *OpenAIProvider) form(audioRef string, data []byte) ([]byte, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	name := filepath.Base(audioRef)
	if audio.IsURL(audioRef) {
		name = filepath.Base(strings.SplitN(audioRef, "?", 2)[0])
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	_ = w.WriteField("model", p.cfg.Model)
	_ = w.WriteField("response_format", "json")
	_ = w.WriteField("temperature", strconv.FormatFloat(p.cfg.Temperature, 'f', -1, 64))
	if p.cfg.Language != "" {
		_ = w.WriteField("language", p.cfg.Language)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return b.Bytes(), w.FormDataContentType(), nil
}

// retryPolicy bounds in-place retries of transient upstream errors.
func retryPolicy(ctx context.Context, maxElapsed time.Duration) backoff.BackOffContext {
	if maxElapsed < 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	if maxElapsed == 0 {
		maxElapsed = defaultMaxElapsed
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = maxElapsed
	return backoff.WithContext(b, ctx)
}

func bodyErr(raw []byte) error {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	if s == "" {
		return nil
	}
	return errors.New(s)
}
