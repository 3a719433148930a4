// Package api is the HTTP surface for submitting audio and reading back
// job state and insights.
package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"audio-insights-go/internal/audio"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/pipeline"
)

const requestLoggerKey = "request_logger"

type Config struct {
	MaxUploadBytes    int64
	AllowedExtensions []string
	// APIKeyConfigured is reported on /health. When RequireAPIKey is set
	// uploads are refused without it.
	APIKeyConfigured bool
	RequireAPIKey    bool
	StoreDriver      string
}

// Handler serves the job and insight routes.
type Handler struct {
	svc     *pipeline.Service
	uploads *audio.LocalStore
	log     *logger.Logger
	cfg     Config
	allowed map[string]bool
}

func NewHandler(svc *pipeline.Service, uploads *audio.LocalStore, log *logger.Logger, cfg Config) *Handler {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	return &Handler{svc: svc, uploads: uploads, log: log.Component("api"), cfg: cfg, allowed: allowed}
}

// NewApp builds a fiber app with recovery, request logging and every route.
func NewApp(h *Handler) *fiber.App {
	limit := 4 << 20
	if h.cfg.MaxUploadBytes > 0 {
		// multipart framing on top of the file itself
		limit = int(h.cfg.MaxUploadBytes) + 1<<20
	}
	app := fiber.New(fiber.Config{
		BodyLimit:             limit,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestLogger(h.log))
	h.Register(app)
	return app
}

func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.health)

	app.Post("/upload_audio", h.upload)
	app.Post("/jobs", h.submit)
	app.Post("/jobs/manifest", h.submitManifest)

	// summary must win over the :id route
	app.Get("/insights/summary", h.summary)
	app.Get("/insights", h.list)
	app.Get("/insights/:id", h.get)
	app.Delete("/insights/:id", h.delete)

	app.Get("/export.xlsx", h.export)
}

// requestLogger tags each request with an id and logs its outcome.
func requestLogger(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, id)

		reqLog := log.WithRequest(c.Method(), c.Path(), id)
		c.Locals(requestLoggerKey, reqLog)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var ferr *fiber.Error
			if errors.As(err, &ferr) {
				status = ferr.Code
			}
		}
		entry := reqLog.WithFields(logrus.Fields{
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if status >= fiber.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Info("request handled")
		}
		return err
	}
}

func reqLogger(c *fiber.Ctx, fallback *logger.Logger) *logger.Logger {
	if l, ok := c.Locals(requestLoggerKey).(*logger.Logger); ok {
		return l
	}
	return fallback
}

// errorHandler renders errors that escape handlers in the same shape as
// handled ones.
func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "internal server error"
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		status = ferr.Code
		msg = ferr.Message
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  errorCode(status),
	})
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "ERR_NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "ERR_METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "ERR_FILE_TOO_LARGE"
	case fiber.StatusBadRequest:
		return "ERR_BAD_REQUEST"
	default:
		return "ERR_INTERNAL"
	}
}

func fail(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}
