package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"chronos/internal/models"
	"chronos/internal/services"
)

// ReportReader serves aggregated session durations
type ReportReader interface {
	DailyTime(ctx context.Context, metric models.Metric, userID int64, tr models.TimeRange) ([]models.DailyTime, error)
	CumulativeLearningTime(ctx context.Context, userID int64, tr models.TimeRange) (time.Duration, error)
}

// ReportHandler handles learning, break and focus time queries
type ReportHandler struct {
	reports ReportReader
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports ReportReader) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Register mounts the report routes on router, each behind the given middleware
func (h *ReportHandler) Register(router fiber.Router, middleware ...fiber.Handler) {
	route := func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, middleware...), handler)
	}

	users := router.Group("/users/:user_id")
	users.Get("/learning-time/daily", route(h.daily(models.MetricLearning))...)
	users.Get("/break-time/daily", route(h.daily(models.MetricBreak))...)
	users.Get("/focus-time/daily", route(h.daily(models.MetricFocus))...)
	users.Get("/learning-time/cumulative", route(h.CumulativeLearningTime)...)
}

func (h *ReportHandler) daily(metric models.Metric) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, tr, err := parseReportQuery(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		daily, err := h.reports.DailyTime(c.UserContext(), metric, userID, tr)
		if err != nil {
			return h.internalError(c, metric, userID, err)
		}

		return c.JSON(fiber.Map{
			"user_id": userID,
			"metric":  metric,
			"start":   tr.Start.Format(time.RFC3339),
			"end":     tr.End.Format(time.RFC3339),
			"days":    daily,
		})
	}
}

// CumulativeLearningTime returns the total learning time of a user in a range
func (h *ReportHandler) CumulativeLearningTime(c *fiber.Ctx) error {
	userID, tr, err := parseReportQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	total, err := h.reports.CumulativeLearningTime(c.UserContext(), userID, tr)
	if err != nil {
		return h.internalError(c, models.MetricLearning, userID, err)
	}

	return c.JSON(fiber.Map{
		"user_id":     userID,
		"start":       tr.Start.Format(time.RFC3339),
		"end":         tr.End.Format(time.RFC3339),
		"duration_ms": total.Milliseconds(),
	})
}

func (h *ReportHandler) internalError(c *fiber.Ctx, metric models.Metric, userID int64, err error) error {
	if errors.Is(err, services.ErrUnknownMetric) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	log.Printf("❌ [REPORTS] Failed to read %s for user %d: %v", metric, userID, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to read report",
	})
}

func parseReportQuery(c *fiber.Ctx) (int64, models.TimeRange, error) {
	userID, err := strconv.ParseInt(c.Params("user_id"), 10, 64)
	if err != nil {
		return 0, models.TimeRange{}, errors.New("user_id must be an integer")
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		return 0, models.TimeRange{}, errors.New("start must be an RFC3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		return 0, models.TimeRange{}, errors.New("end must be an RFC3339 timestamp")
	}
	if !start.Before(end) {
		return 0, models.TimeRange{}, errors.New("start must be before end")
	}

	return userID, models.TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}
