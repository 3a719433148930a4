// Package app wires configuration into the running service: audio sources,
// provider chains, the job store, the worker pool and the HTTP layer.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"audio-insights-go/internal/api"
	"audio-insights-go/internal/audio"
	"audio-insights-go/internal/config"
	"audio-insights-go/internal/extractor"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/pipeline"
	"audio-insights-go/internal/processor"
	"audio-insights-go/internal/queue"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/telemetry"
	"audio-insights-go/internal/transcription"
)

// App is the assembled service.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Uploads *audio.LocalStore
	Store   store.Store
	Queue   *queue.Queue
	Pool    *pipeline.Pool
	Service *pipeline.Service
	HTTP    *fiber.App
	Metrics *telemetry.Metrics

	meter *sdkmetric.MeterProvider
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.UsesGroq() && cfg.GroqAPIKey == "" {
		log.Warn("GROQ_API_KEY is not set. Audio processing will fail.")
		log.Warn("Get an API key from https://console.groq.com and add it to your .env file")
	}

	mp, err := telemetry.InitMeter(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Interval:    cfg.Telemetry.Interval,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.meter = mp
	a.Metrics, err = telemetry.NewMetrics(mp.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	a.Uploads, err = audio.NewLocalStore(cfg.Audio.UploadDir)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	// remote refs get the same size limit as uploads
	src := audio.Limit(&audio.Router{Local: a.Uploads, Remote: audio.NewHTTPSource(cfg.Audio.FetchTimeout)}, cfg.MaxUploadBytes())

	tr, err := TranscriptionChain(cfg.Transcription, src, log)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	tr.OnFailure(func(ctx context.Context, e *transcription.Error) {
		a.Metrics.ProviderFailure(ctx, "transcription", e.Provider, e.Retryable)
	})
	ex, err := ExtractionChain(cfg.Extraction, log)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	ex.OnFailure(func(ctx context.Context, e *extractor.Error) {
		a.Metrics.ProviderFailure(ctx, "extraction", e.Provider, e.Retryable)
	})

	a.Store, err = store.Open(ctx, store.Options{
		Driver:        cfg.Store.Driver,
		SQLitePath:    cfg.Store.SQLitePath,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisPrefix:   cfg.Store.RedisPrefix,
	})
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.Queue = queue.New(cfg.Queue.Capacity)
	proc := processor.New(a.Store, tr, ex, log, processor.WithPersistMaxElapsed(cfg.Worker.PersistMaxElapsed))
	a.Pool = pipeline.NewPool(a.Queue, proc, cfg.Worker.Count, log, a.Metrics)
	a.Service = pipeline.NewService(a.Store, a.Queue, log)

	a.HTTP = api.NewApp(api.NewHandler(a.Service, a.Uploads, log, api.Config{
		MaxUploadBytes:    cfg.MaxUploadBytes(),
		AllowedExtensions: cfg.Server.AllowedExtensions,
		APIKeyConfigured:  cfg.GroqAPIKey != "",
		RequireAPIKey:     cfg.UsesGroq(),
		StoreDriver:       cfg.Store.Driver,
	}))

	log.WithFields(map[string]any{
		"store":         cfg.Store.Driver,
		"workers":       cfg.Worker.Count,
		"transcription": tr.Providers(),
		"extraction":    ex.Providers(),
	}).Info("service assembled")
	return a, nil
}

// TranscriptionChain builds the ranked transcription providers.
func TranscriptionChain(list []config.ProviderConfig, src audio.Source, log *logger.Logger) (*transcription.Chain, error) {
	providers := make([]transcription.Provider, 0, len(list))
	for i, pc := range list {
		switch pc.Type {
		case "openai":
			providers = append(providers, transcription.NewOpenAIProvider(transcription.OpenAIConfig{
				Name:                 pc.Name,
				BaseURL:              pc.BaseURL,
				APIKey:               pc.APIKey,
				Model:                pc.Model,
				Language:             pc.Language,
				Temperature:          pc.Temperature,
				Timeout:              pc.Timeout,
				MaxElapsed:           pc.MaxElapsed,
				NonRetryableStatuses: pc.NonRetryableStatuses,
			}, src))
		case "media":
			providers = append(providers, transcription.NewMediaProvider(transcription.MediaConfig{
				Name:                 pc.Name,
				BaseURL:              pc.BaseURL,
				PollInterval:         pc.PollInterval,
				PollAttempts:         pc.PollAttempts,
				Timeout:              pc.Timeout,
				MaxElapsed:           pc.MaxElapsed,
				NonRetryableStatuses: pc.NonRetryableStatuses,
			}))
		case "mock":
			providers = append(providers, &transcription.MockProvider{ProviderName: pc.Name, Source: src})
		default:
			return nil, unknownType("transcription", i, pc.Type)
		}
	}
	return transcription.NewChain(log, providers...), nil
}

// ExtractionChain builds the ranked insight extraction providers.
func ExtractionChain(list []config.ProviderConfig, log *logger.Logger) (*extractor.Chain, error) {
	providers := make([]extractor.Provider, 0, len(list))
	for i, pc := range list {
		switch pc.Type {
		case "openai":
			providers = append(providers, extractor.NewOpenAIProvider(extractor.OpenAIConfig{
				Name:                 pc.Name,
				BaseURL:              pc.BaseURL,
				APIKey:               pc.APIKey,
				Model:                pc.Model,
				Temperature:          pc.Temperature,
				MaxTokens:            pc.MaxTokens,
				Timeout:              pc.Timeout,
				MaxElapsed:           pc.MaxElapsed,
				NonRetryableStatuses: pc.NonRetryableStatuses,
			}))
		case "mock":
			providers = append(providers, &extractor.MockProvider{ProviderName: pc.Name})
		default:
			return nil, unknownType("extraction", i, pc.Type)
		}
	}
	return extractor.NewChain(log, providers...), nil
}

func unknownType(step string, i int, typ string) error {
	return fmt.Errorf("%s provider %d: unknown type %q", step, i, typ)
}

// Start launches the workers.
func (a *App) Start(ctx context.Context) {
	a.Pool.Start(ctx)
}

// Listen serves HTTP until Shutdown is called.
func (a *App) Listen() error {
	return a.HTTP.Listen(":" + strconv.Itoa(a.Config.Server.Port))
}

// Shutdown stops HTTP intake, drains the workers and releases the store and
// meter provider. It returns every error it met.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.HTTP != nil {
		if err := a.HTTP.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := a.Pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker shutdown: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if a.meter != nil {
		if err := a.meter.Shutdown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
