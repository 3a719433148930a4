package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"audio-insights-go/internal/dataset"
	"audio-insights-go/internal/pipeline"
	"audio-insights-go/internal/queue"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/types"
)

func (h *Handler) health(c *fiber.Ctx) error {
	storeOK := true
	if _, err := h.svc.List(c.UserContext(), store.Filter{Limit: 1}); err != nil {
		reqLogger(c, h.log).WithError(err).Warn("store health check failed")
		storeOK = false
	}
	_, statErr := os.Stat(h.uploads.Dir())

	status := "healthy"
	if !storeOK {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":             status,
		"api_key_configured": h.cfg.APIKeyConfigured,
		"store":              h.cfg.StoreDriver,
		"store_ok":           storeOK,
		"upload_directory":   statErr == nil,
		"queue_length":       h.svc.QueueLen(),
	})
}

// upload stores a multipart "file" in the upload dir and submits it.
func (h *Handler) upload(c *fiber.Ctx) error {
	log := reqLogger(c, h.log)
	if h.cfg.RequireAPIKey && !h.cfg.APIKeyConfigured {
		return fail(c, fiber.StatusBadRequest, "ERR_NO_API_KEY",
			"Groq API key not configured. Please set GROQ_API_KEY in your .env file.")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "ERR_NO_FILE", "No file uploaded")
	}
	if h.cfg.MaxUploadBytes > 0 && file.Size > h.cfg.MaxUploadBytes {
		return fail(c, fiber.StatusBadRequest, "ERR_FILE_TOO_LARGE",
			fmt.Sprintf("File too large (max %dMB)", h.cfg.MaxUploadBytes>>20))
	}
	if !h.allowed[strings.ToLower(filepath.Ext(file.Filename))] {
		return fail(c, fiber.StatusBadRequest, "ERR_INVALID_FORMAT",
			"Invalid file type. Supported: "+strings.Join(h.cfg.AllowedExtensions, ", "))
	}

	src, err := file.Open()
	if err != nil {
		log.WithError(err).Error("failed to open uploaded file")
		return fail(c, fiber.StatusInternalServerError, "ERR_SAVE_FAILED", "Failed to save file")
	}
	defer src.Close()

	ref, n, err := h.uploads.Save(file.Filename, src)
	if err != nil {
		log.WithError(err).Error("failed to save uploaded file")
		return fail(c, fiber.StatusInternalServerError, "ERR_SAVE_FAILED", "Failed to save file")
	}
	if n == 0 {
		_ = h.uploads.Remove(ref)
		return fail(c, fiber.StatusBadRequest, "ERR_EMPTY_FILE", "Uploaded file is empty")
	}

	id, err := h.svc.SubmitUpload(c.UserContext(), ref, file.Filename)
	if err != nil {
		_ = h.uploads.Remove(ref)
		return h.submitFailed(c, err)
	}
	log.WithField("job_id", id).WithField("bytes", n).Info("audio uploaded")
	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "File uploaded successfully. Processing started.",
		"insight_id": id,
	})
}

type submitRequest struct {
	AudioRef string `json:"audio_ref"`
	Filename string `json:"filename"`
}

// submit accepts a reference to audio that is already stored, either a
// name in the upload dir or an http(s) URL.
func (h *Handler) submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "ERR_BAD_REQUEST", "Request body must be JSON")
	}
	if req.Filename == "" {
		req.Filename = filepath.Base(strings.SplitN(req.AudioRef, "?", 2)[0])
	}
	id, err := h.svc.Submit(c.UserContext(), req.AudioRef, req.Filename)
	if err != nil {
		return h.submitFailed(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":    true,
		"insight_id": id,
		"status":     types.StatusQueued,
	})
}

type manifestResult struct {
	Row       int    `json:"row"`
	CallID    string `json:"call_id,omitempty"`
	AudioURL  string `json:"audio_url"`
	InsightID string `json:"insight_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// submitManifest reads an xlsx manifest of recording links and submits
// one job per row.
func (h *Handler) submitManifest(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "ERR_NO_FILE", "No manifest uploaded")
	}
	src, err := file.Open()
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "ERR_INVALID_MANIFEST", "Manifest could not be read")
	}
	defer src.Close()

	records, err := dataset.LoadReader(src)
	if err != nil {
		if errors.Is(err, dataset.ErrNoRows) {
			return fail(c, fiber.StatusBadRequest, "ERR_EMPTY_MANIFEST", "Manifest has no recording links")
		}
		return fail(c, fiber.StatusBadRequest, "ERR_INVALID_MANIFEST", "Manifest is not a readable xlsx workbook")
	}

	results := make([]manifestResult, 0, len(records))
	submitted := 0
	for _, rec := range records {
		res := manifestResult{Row: rec.Row, CallID: rec.CallID, AudioURL: rec.AudioURL}
		name := rec.CallID
		if name == "" {
			name = filepath.Base(strings.SplitN(rec.AudioURL, "?", 2)[0])
		}
		id, err := h.svc.Submit(c.UserContext(), rec.AudioURL, name)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.InsightID = id
			submitted++
		}
		results = append(results, res)
	}
	reqLogger(c, h.log).WithField("rows", len(records)).WithField("submitted", submitted).Info("manifest submitted")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"submitted": submitted,
		"failed":    len(records) - submitted,
		"jobs":      results,
	})
}

func (h *Handler) submitFailed(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrEmptyAudioRef):
		return fail(c, fiber.StatusBadRequest, "ERR_NO_AUDIO_REF", err.Error())
	case errors.Is(err, queue.ErrClosed):
		return fail(c, fiber.StatusServiceUnavailable, "ERR_SHUTTING_DOWN", "Service is shutting down")
	default:
		reqLogger(c, h.log).WithError(err).Error("submit failed")
		return fail(c, fiber.StatusInternalServerError, "ERR_SUBMIT_FAILED", "Job could not be submitted")
	}
}

func (h *Handler) get(c *fiber.Ctx) error {
	job, err := h.svc.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.lookupFailed(c, err)
	}
	return c.JSON(job)
}

func (h *Handler) list(c *fiber.Ctx) error {
	f := store.Filter{
		Status:    types.Status(c.Query("status")),
		Sentiment: types.Sentiment(c.Query("sentiment")),
		Topic:     c.Query("topic"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return fail(c, fiber.StatusBadRequest, "ERR_BAD_FILTER", "Unknown status "+string(f.Status))
	}
	switch f.Sentiment {
	case "", types.SentimentPositive, types.SentimentNeutral, types.SentimentNegative:
	default:
		return fail(c, fiber.StatusBadRequest, "ERR_BAD_FILTER", "Unknown sentiment "+string(f.Sentiment))
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fail(c, fiber.StatusBadRequest, "ERR_BAD_FILTER", "limit must be a non-negative integer")
		}
		f.Limit = n
	}

	jobs, err := h.svc.List(c.UserContext(), f)
	if err != nil {
		reqLogger(c, h.log).WithError(err).Error("list jobs failed")
		return fail(c, fiber.StatusInternalServerError, "ERR_STORE", "Insights could not be loaded")
	}
	if jobs == nil {
		jobs = []types.Job{}
	}
	return c.JSON(jobs)
}

// delete removes a finished job, and its audio when the job was created by
// an upload. Jobs submitted by reference never own the file they point at.
func (h *Handler) delete(c *fiber.Ctx) error {
	job, err := h.svc.Delete(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, pipeline.ErrJobActive) {
			return fail(c, fiber.StatusConflict, "ERR_JOB_ACTIVE", "Insight is still being processed")
		}
		return h.lookupFailed(c, err)
	}
	if job.Uploaded {
		if err := h.uploads.Remove(job.AudioRef); err != nil {
			reqLogger(c, h.log).WithError(err).Warn("failed to remove audio file")
		}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Insight deleted successfully",
	})
}

func (h *Handler) lookupFailed(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "ERR_NOT_FOUND", "Insight not found")
	}
	reqLogger(c, h.log).WithError(err).Error("job lookup failed")
	return fail(c, fiber.StatusInternalServerError, "ERR_STORE", "Insight could not be loaded")
}
