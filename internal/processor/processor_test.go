package processor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"audio-insights-go/internal/audio"
	"audio-insights-go/internal/extractor"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/transcription"
	"audio-insights-go/internal/types"
)

type fixture struct {
	store *store.Memory
	proc  *Processor
}

func newFixture(t *testing.T, trs []transcription.Provider, exs []extractor.Provider, opts ...Option) *fixture {
	t.Helper()
	log := logger.NewNop()
	st := store.NewMemory()
	proc := New(st, transcription.NewChain(log, trs...), extractor.NewChain(log, exs...), log, opts...)
	return &fixture{store: st, proc: proc}
}

func (f *fixture) submit(t *testing.T, id, ref string) {
	t.Helper()
	if err := f.store.Create(context.Background(), types.NewJob(id, ref, ref, time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestProcessSucceeds(t *testing.T) {
	f := newFixture(t,
		[]transcription.Provider{&transcription.MockProvider{Text: "I want a refund for my order."}},
		[]extractor.Provider{&extractor.MockProvider{}},
	)
	f.submit(t, "j1", "a.wav")

	job, err := f.proc.Process(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if job.Status != types.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}
	if job.Transcript == nil || *job.Transcript != "I want a refund for my order." {
		t.Fatalf("transcript = %v", job.Transcript)
	}
	if job.Insight == nil || job.Insight.Validate() != nil || job.Error != nil {
		t.Fatalf("job = %+v", job)
	}
}

// TestProcessTranscriptionFallback checks the second provider's text is stored.
func TestProcessTranscriptionFallback(t *testing.T) {
	a := &transcription.MockProvider{ProviderName: "a", Err: &transcription.Error{Provider: "a", Reason: "upstream status 503", Retryable: true}}
	b := &transcription.MockProvider{ProviderName: "b", Text: "from b"}
	f := newFixture(t, []transcription.Provider{a, b}, []extractor.Provider{&extractor.MockProvider{}})
	f.submit(t, "j1", "a.wav")

	job, err := f.proc.Process(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if job.Transcript == nil || *job.Transcript != "from b" {
		t.Fatalf("transcript = %v, want from b", job.Transcript)
	}
}

func TestProcessTranscriptionFailures(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		kind types.ErrorKind
	}{
		{"non-retryable", &transcription.Error{Provider: "a", Reason: "upstream rejected request with status 415"}, types.ErrKindTranscription},
		{"exhausted", &transcription.Error{Provider: "a", Reason: "request timed out", Retryable: true}, types.ErrKindTranscriptionExhausted},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ex := &extractor.MockProvider{}
			f := newFixture(t, []transcription.Provider{&transcription.MockProvider{ProviderName: "a", Err: tc.err}}, []extractor.Provider{ex})
			f.submit(t, "j1", "a.wav")

			job, err := f.proc.Process(context.Background(), "j1")
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if job.Status != types.StatusFailed || job.Error == nil || job.Error.Kind != tc.kind {
				t.Fatalf("job = %+v, want failed/%s", job, tc.kind)
			}
			if job.Transcript != nil || job.Insight != nil {
				t.Fatalf("failed transcription kept transcript or insight")
			}
			if !strings.HasPrefix(job.Error.Reason, "transcription failed: ") {
				t.Fatalf("reason = %q", job.Error.Reason)
			}
			if ex.Calls() != 0 {
				t.Fatalf("extractor called after transcription failure")
			}
		})
	}
}

// TestProcessEmptyAudio checks the reason is readable and carries no payload.
func TestProcessEmptyAudio(t *testing.T) {
	src, err := audio.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ref, _, _ := src.Save("empty.wav", strings.NewReader(""))
	b := &transcription.MockProvider{ProviderName: "b"}
	f := newFixture(t,
		[]transcription.Provider{&transcription.MockProvider{ProviderName: "a", Source: src}, b},
		[]extractor.Provider{&extractor.MockProvider{}},
	)
	f.submit(t, "j1", ref)

	job, _ := f.proc.Process(context.Background(), "j1")
	if job.Error == nil || job.Error.Reason != "transcription failed: audio file is empty" {
		t.Fatalf("error = %+v", job.Error)
	}
	if b.Calls() != 0 {
		t.Fatalf("lower rank called after non-retryable failure")
	}
}

func TestProcessExtractionFailureKeepsTranscript(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		kind types.ErrorKind
	}{
		{"non-retryable", &extractor.Error{Provider: "x", Reason: "upstream rejected request with status 400"}, types.ErrKindExtraction},
		{"exhausted", &extractor.Error{Provider: "x", Reason: "no JSON found in model output", Retryable: true}, types.ErrKindExtractionExhausted},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t,
				[]transcription.Provider{&transcription.MockProvider{Text: "hello"}},
				[]extractor.Provider{&extractor.MockProvider{ProviderName: "x", Err: tc.err}},
			)
			f.submit(t, "j1", "a.wav")

			job, err := f.proc.Process(context.Background(), "j1")
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if job.Status != types.StatusFailed || job.Error.Kind != tc.kind {
				t.Fatalf("job = %+v", job)
			}
			if job.Transcript == nil || *job.Transcript != "hello" || job.Insight != nil {
				t.Fatalf("transcript = %v insight = %v", job.Transcript, job.Insight)
			}
		})
	}
}

func TestProcessSkipsNonQueued(t *testing.T) {
	tr := &transcription.MockProvider{}
	f := newFixture(t, []transcription.Provider{tr}, []extractor.Provider{&extractor.MockProvider{}})
	f.submit(t, "j1", "a.wav")
	if _, err := f.proc.Process(context.Background(), "j1"); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if _, err := f.proc.Process(context.Background(), "j1"); !errors.Is(err, ErrSkipped) {
		t.Fatalf("second Process = %v, want ErrSkipped", err)
	}
	if tr.Calls() != 1 {
		t.Fatalf("transcriber called %d times, want 1", tr.Calls())
	}
}

// TestProcessUnmodelledError checks foreign errors surface and can be failed generically.
func TestProcessUnmodelledError(t *testing.T) {
	f := newFixture(t,
		[]transcription.Provider{&transcription.MockProvider{Err: errors.New("socket exploded")}},
		[]extractor.Provider{&extractor.MockProvider{}},
	)
	f.submit(t, "j1", "a.wav")
	if _, err := f.proc.Process(context.Background(), "j1"); err == nil {
		t.Fatalf("Process succeeded, want error")
	}
	job, err := f.proc.FailUnexpected(context.Background(), "j1")
	if err != nil {
		t.Fatalf("FailUnexpected: %v", err)
	}
	if job.Error.Kind != types.ErrKindUnexpected || strings.Contains(job.Error.Reason, "socket") {
		t.Fatalf("error = %+v", job.Error)
	}
}

// flakyStore fails the first n updates with a backend error.
type flakyStore struct {
	*store.Memory
	failures atomic.Int32
}

func (s *flakyStore) Update(ctx context.Context, id string, mutate func(*types.Job) error) (types.Job, error) {
	if s.failures.Add(-1) >= 0 {
		return types.Job{}, &store.StoreError{Op: "update", Err: errors.New("disk busy")}
	}
	return s.Memory.Update(ctx, id, mutate)
}

func TestProcessRetriesStoreErrors(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	st.failures.Store(2)
	log := logger.NewNop()
	proc := New(st,
		transcription.NewChain(log, &transcription.MockProvider{}),
		extractor.NewChain(log, &extractor.MockProvider{}),
		log, WithPersistMaxElapsed(5*time.Second))
	_ = st.Create(context.Background(), types.NewJob("j1", "a.wav", "", time.Now()))

	job, err := proc.Process(context.Background(), "j1")
	if err != nil || job.Status != types.StatusSucceeded {
		t.Fatalf("Process = %s, %v", job.Status, err)
	}
}

func TestProcessUnreconciled(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	st.failures.Store(1 << 20)
	log := logger.NewNop()
	proc := New(st,
		transcription.NewChain(log, &transcription.MockProvider{}),
		extractor.NewChain(log, &extractor.MockProvider{}),
		log, WithPersistMaxElapsed(-1))
	_ = st.Create(context.Background(), types.NewJob("j1", "a.wav", "", time.Now()))

	_, err := proc.Process(context.Background(), "j1")
	var uerr *UnreconciledError
	if !errors.As(err, &uerr) || uerr.JobID != "j1" {
		t.Fatalf("err = %v, want UnreconciledError", err)
	}
}
