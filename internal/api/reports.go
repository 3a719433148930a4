package api

import (
	"bytes"
	"time"

	"github.com/gofiber/fiber/v2"

	"audio-insights-go/internal/actionable"
	"audio-insights-go/internal/aggregator"
	"audio-insights-go/internal/report"
	"audio-insights-go/internal/store"
)

const topTopics = 10

func (h *Handler) summary(c *fiber.Ctx) error {
	jobs, err := h.svc.List(c.UserContext(), store.Filter{})
	if err != nil {
		reqLogger(c, h.log).WithError(err).Error("list jobs failed")
		return fail(c, fiber.StatusInternalServerError, "ERR_STORE", "Insights could not be loaded")
	}
	s := aggregator.Aggregate(jobs, topTopics)
	return c.JSON(fiber.Map{
		"summary": s,
		"actions": actionable.Generate(s),
	})
}

func (h *Handler) export(c *fiber.Ctx) error {
	jobs, err := h.svc.List(c.UserContext(), store.Filter{})
	if err != nil {
		reqLogger(c, h.log).WithError(err).Error("list jobs failed")
		return fail(c, fiber.StatusInternalServerError, "ERR_STORE", "Insights could not be loaded")
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, jobs, aggregator.Aggregate(jobs, topTopics)); err != nil {
		reqLogger(c, h.log).WithError(err).Error("render report failed")
		return fail(c, fiber.StatusInternalServerError, "ERR_EXPORT", "Report could not be generated")
	}
	name := "insights-" + time.Now().UTC().Format("20060102-150405") + ".xlsx"
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Send(buf.Bytes())
}
