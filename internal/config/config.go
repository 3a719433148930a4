// Package config loads service settings from .env, an optional YAML file
// and AUDIO_INSIGHTS_* environment variables, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "AUDIO_INSIGHTS"

type Config struct {
	Environment   string           `mapstructure:"environment"`
	GroqAPIKey    string           `mapstructure:"groq_api_key"`
	Server        ServerConfig     `mapstructure:"server"`
	Audio         AudioConfig      `mapstructure:"audio"`
	Queue         QueueConfig      `mapstructure:"queue"`
	Worker        WorkerConfig     `mapstructure:"worker"`
	Store         StoreConfig      `mapstructure:"store"`
	Telemetry     TelemetryConfig  `mapstructure:"telemetry"`
	Transcription []ProviderConfig `mapstructure:"transcription" validate:"min=1,dive"`
	Extraction    []ProviderConfig `mapstructure:"extraction" validate:"min=1,dive"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"min=1,max=65535"`
	MaxUploadMB       int           `mapstructure:"max_upload_mb" validate:"min=1"`
	AllowedExtensions []string      `mapstructure:"allowed_extensions" validate:"min=1"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type AudioConfig struct {
	UploadDir    string        `mapstructure:"upload_dir" validate:"required"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity" validate:"min=0"`
}

type WorkerConfig struct {
	Count             int           `mapstructure:"count" validate:"min=1"`
	PersistMaxElapsed time.Duration `mapstructure:"persist_max_elapsed"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=memory sqlite redis"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type TelemetryConfig struct {
	ServiceName  string        `mapstructure:"service_name"`
	OTLPEndpoint string        `mapstructure:"otlp_endpoint"`
	Insecure     bool          `mapstructure:"insecure"`
	Interval     time.Duration `mapstructure:"interval"`
}

// ProviderConfig is one ranked entry of a provider list. Order in the
// list is the fallback order.
type ProviderConfig struct {
	Type                 string        `mapstructure:"type" validate:"oneof=openai media mock"`
	Name                 string        `mapstructure:"name"`
	BaseURL              string        `mapstructure:"base_url"`
	APIKey               string        `mapstructure:"api_key"`
	Model                string        `mapstructure:"model"`
	Language             string        `mapstructure:"language"`
	Temperature          float64       `mapstructure:"temperature"`
	MaxTokens            int           `mapstructure:"max_tokens"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxElapsed           time.Duration `mapstructure:"max_elapsed"`
	NonRetryableStatuses []int         `mapstructure:"non_retryable_statuses"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	PollAttempts         int           `mapstructure:"poll_attempts"`
}

func (c Config) MaxUploadBytes() int64 { return int64(c.Server.MaxUploadMB) << 20 }

func DefaultTranscription() []ProviderConfig {
	return []ProviderConfig{
		{Type: "openai", Name: "groq-whisper", Model: "whisper-large-v3", Language: "en", Timeout: 60 * time.Second, MaxElapsed: 10 * time.Second},
		{Type: "openai", Name: "groq-whisper-turbo", Model: "whisper-large-v3-turbo", Language: "en", Timeout: 60 * time.Second, MaxElapsed: 10 * time.Second},
	}
}

func DefaultExtraction() []ProviderConfig {
	return []ProviderConfig{
		{Type: "openai", Name: "groq-llama-70b", Model: "llama-3.1-70b-versatile", Temperature: 0.2, MaxTokens: 800, Timeout: 25 * time.Second, MaxElapsed: 15 * time.Second},
		{Type: "openai", Name: "groq-llama-8b", Model: "llama-3.1-8b-instant", Temperature: 0.2, MaxTokens: 800, Timeout: 25 * time.Second, MaxElapsed: 15 * time.Second},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "local")
	v.SetDefault("groq_api_key", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.allowed_extensions", []string{".wav", ".mp3", ".m4a"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("audio.upload_dir", "uploads")
	v.SetDefault("audio.fetch_timeout", 60*time.Second)
	v.SetDefault("queue.capacity", 0)
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.persist_max_elapsed", 30*time.Second)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "voiceagent.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "audio-insights")
	v.SetDefault("telemetry.service_name", "audio-insights-go")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.interval", 15*time.Second)
}

// Load reads configuration. path may name a YAML file; an empty path
// skips it. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("groq_api_key", EnvPrefix+"_GROQ_API_KEY", "GROQ_API_KEY")
	_ = v.BindEnv("environment", EnvPrefix+"_ENVIRONMENT", "ENVIRONMENT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyProviderDefaults fills empty provider lists, honours the mock
// switches and hands the shared Groq key to providers without their own.
func (c *Config) applyProviderDefaults() {
	if len(c.Transcription) == 0 {
		c.Transcription = DefaultTranscription()
	}
	if len(c.Extraction) == 0 {
		c.Extraction = DefaultExtraction()
	}
	if os.Getenv("USE_MOCK_TRANSCRIBE") == "true" {
		c.Transcription = []ProviderConfig{{Type: "mock", Name: "mock-transcriber"}}
	}
	if os.Getenv("USE_MOCK_LLM") == "true" {
		c.Extraction = []ProviderConfig{{Type: "mock", Name: "mock-llm"}}
	}
	for _, list := range [][]ProviderConfig{c.Transcription, c.Extraction} {
		for i := range list {
			if list[i].Type == "openai" && list[i].APIKey == "" {
				list[i].APIKey = c.GroqAPIKey
			}
		}
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// UsesGroq reports whether any provider needs the shared Groq key.
func (c *Config) UsesGroq() bool {
	for _, list := range [][]ProviderConfig{c.Transcription, c.Extraction} {
		for _, p := range list {
			if p.Type == "openai" && (p.BaseURL == "" || strings.Contains(p.BaseURL, "groq.com")) {
				return true
			}
		}
	}
	return false
}
