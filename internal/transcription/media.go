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
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"audio-insights-go/internal/audio"
)

// MediaConfig configures a provider for a publish/poll/download media
// transcription service that fetches the recording by link itself.
type MediaConfig struct {
	Name                 string
	BaseURL              string
	CallType             string
	PollInterval         time.Duration
	PollAttempts         int
	Timeout              time.Duration
	MaxElapsed           time.Duration
	NonRetryableStatuses []int
}

type publishResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		MediaID          string `json:"MediaId"`
		Status           string `json:"Status"`
		TranscriptionURL string `json:"TranscriptionURL"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type statusResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		Status               string `json:"Status"`
		TranscriptionTextURL string `json:"TranscriptionTextURL"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type MediaProvider struct {
	cfg        MediaConfig
	client     *http.Client
	classifier Classifier
}

func NewMediaProvider(cfg MediaConfig) *MediaProvider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Name == "" {
		cfg.Name = "media"
	}
	if cfg.CallType == "" {
		cfg.CallType = "PNS"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 40
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &MediaProvider{
		cfg:        cfg,
		client:     &http.Client{Timeout: 12 * time.Second},
		classifier: NewClassifier(cfg.NonRetryableStatuses),
	}
}

func (p *MediaProvider) Name() string { return p.cfg.Name }

// Transcribe publishes the recording link, polls until the service reports
// a result and downloads the transcript text. Only URL references can be
// published; local files are left to the next provider.
func (p *MediaProvider) Transcribe(ctx context.Context, audioRef string) (string, error) {
	if !audio.IsURL(audioRef) {
		return "", retryable(p.Name(), "provider accepts only remote recording links", nil)
	}
	if p.cfg.BaseURL == "" {
		return "", retryable(p.Name(), "service URL not configured", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	mediaID, ready, err := p.publish(ctx, audioRef)
	if err != nil {
		return "", err
	}
	if ready == "" {
		if ready, err = p.poll(ctx, mediaID); err != nil {
			return "", err
		}
	}
	return p.download(ctx, ready)
}

func (p *MediaProvider) publish(ctx context.Context, link string) (string, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	_ = w.WriteField("callRecordingLink", link)
	_ = w.WriteField("callType", p.cfg.CallType)
	_ = w.Close()
	body := b.Bytes()

	var resp publishResponse
	err := p.doJSON(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/transcribe", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", w.FormDataContentType())
		}
		return req, err
	}, &resp)
	if err != nil {
		return "", "", err
	}
	if resp.Code != http.StatusOK {
		return "", "", &Error{
			Provider:  p.Name(),
			Reason:    fmt.Sprintf("publish rejected with code %d", resp.Code),
			Retryable: p.classifier.Retryable(resp.Code),
			Err:       reasonErr(resp.Reason),
		}
	}
	if resp.Data.TranscriptionURL != "" && strings.EqualFold(resp.Data.Status, "success") {
		return "", resp.Data.TranscriptionURL, nil
	}
	if resp.Data.MediaID == "" {
		return "", "", retryable(p.Name(), "publish returned no media id", nil)
	}
	return resp.Data.MediaID, "", nil
}

func (p *MediaProvider) poll(ctx context.Context, mediaID string) (string, error) {
	u, err := url.Parse(p.cfg.BaseURL + "/getstatus")
	if err != nil {
		return "", fatal(p.Name(), "invalid service URL", err)
	}
	q := u.Query()
	q.Set("mediaId", mediaID)
	u.RawQuery = q.Encode()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for i := 0; i < p.cfg.PollAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", classifyTransport(p.Name(), ctx.Err())
		case <-ticker.C:
		}

		var s statusResponse
		err := p.doJSON(ctx, func() (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		}, &s)
		if err != nil {
			var perr *Error
			if errors.As(err, &perr) && !perr.Retryable {
				return "", perr
			}
			continue
		}
		switch s.Data.Status {
		case "Success":
			return s.Data.TranscriptionTextURL, nil
		case "Queued", "Processing":
			continue
		case "Failed":
			return "", retryable(p.Name(), "service reported transcription failure", reasonErr(s.Reason))
		}
	}
	return "", retryable(p.Name(), "transcription did not finish in time", nil)
}

func (p *MediaProvider) download(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", retryable(p.Name(), "invalid transcript link", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyTransport(p.Name(), err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(p.Name(), err)
	}
	if resp.StatusCode >= 300 {
		return "", retryable(p.Name(), "transcript download failed with status "+strconv.Itoa(resp.StatusCode), bodyErr(b))
	}
	return string(b), nil
}

func (p *MediaProvider) doJSON(ctx context.Context, newReq func() (*http.Request, error), target any) error {
	var last *Error
	op := func() error {
		req, err := newReq()
		if err != nil {
			last = fatal(p.Name(), "invalid request", err)
			return backoff.Permanent(last)
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
			last = retryable(p.Name(), "upstream status "+strconv.Itoa(resp.StatusCode), bodyErr(body))
			return last
		}
		if resp.StatusCode >= 300 {
			last = &Error{
				Provider:  p.Name(),
				Reason:    "upstream rejected request with status " + strconv.Itoa(resp.StatusCode),
				Retryable: p.classifier.Retryable(resp.StatusCode),
				Err:       bodyErr(body),
			}
			return backoff.Permanent(last)
		}
		if len(body) == 0 {
			last = retryable(p.Name(), "empty upstream response", nil)
			return last
		}
		if err := json.Unmarshal(body, target); err != nil {
			last = retryable(p.Name(), "malformed upstream response", err)
			return backoff.Permanent(last)
		}
		last = nil
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx, p.cfg.MaxElapsed)); err != nil {
		if last != nil {
			return last
		}
		return classifyTransport(p.Name(), err)
	}
	return nil
}

func reasonErr(reason string) error {
	if reason == "" {
		return nil
	}
	return errors.New(reason)
}
