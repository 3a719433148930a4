package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 || cfg.Server.MaxUploadMB != 50 || cfg.Store.SQLitePath != "voiceagent.db" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.MaxUploadBytes() != 50<<20 {
		t.Fatalf("MaxUploadBytes = %d", cfg.MaxUploadBytes())
	}
	if len(cfg.Transcription) != 2 || cfg.Transcription[0].Model != "whisper-large-v3" {
		t.Fatalf("transcription = %+v", cfg.Transcription)
	}
	if cfg.Extraction[1].Model != "llama-3.1-8b-instant" || cfg.Extraction[0].APIKey != "gsk-test" {
		t.Fatalf("extraction = %+v", cfg.Extraction)
	}
	if !cfg.UsesGroq() {
		t.Fatalf("UsesGroq = false with default providers")
	}
}

// TestLoadFileAndEnv checks env overrides beat the YAML file.
func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	yml := `
server:
  port: 9000
worker:
  count: 2
  persist_max_elapsed: 5s
store:
  driver: memory
transcription:
  - type: media
    name: media
    base_url: http://media.local
    poll_interval: 500ms
  - type: openai
    model: whisper-large-v3
    non_retryable_statuses: [400, 415]
extraction:
  - type: mock
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUDIO_INSIGHTS_SERVER_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Worker.Count != 2 || cfg.Worker.PersistMaxElapsed != 5*time.Second {
		t.Fatalf("worker = %+v", cfg.Worker)
	}
	tr := cfg.Transcription
	if len(tr) != 2 || tr[0].Type != "media" || tr[0].PollInterval != 500*time.Millisecond {
		t.Fatalf("transcription = %+v", tr)
	}
	if len(tr[1].NonRetryableStatuses) != 2 || tr[1].NonRetryableStatuses[1] != 415 {
		t.Fatalf("non_retryable_statuses = %v", tr[1].NonRetryableStatuses)
	}
	if cfg.Extraction[0].Type != "mock" {
		t.Fatalf("extraction = %+v", cfg.Extraction)
	}
}

func TestLoadMockSwitches(t *testing.T) {
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	t.Setenv("USE_MOCK_LLM", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transcription[0].Type != "mock" || cfg.Extraction[0].Type != "mock" || cfg.UsesGroq() {
		t.Fatalf("providers = %+v / %+v", cfg.Transcription, cfg.Extraction)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("AUDIO_INSIGHTS_STORE_DRIVER", "cassandra")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "Driver") {
		t.Fatalf("Load = %v, want driver validation error", err)
	}
}
