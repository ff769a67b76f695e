package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/digest"
	"github.com/congresssignal/backend/internal/extraction"
	"github.com/congresssignal/backend/internal/indexing"
	"github.com/congresssignal/backend/internal/ingestion"
	"github.com/congresssignal/backend/pkg/logger"
)

const defaultJobLimit = 200

// JobHandler exposes the batch pipeline stages to the external scheduler.
// Every stage is idempotent, so a cron job that fires twice does no harm.
type JobHandler struct {
	ingestor *ingestion.Ingestor
	engine   *extraction.Engine
	indexer  *indexing.Indexer
	free     *digest.FreeService
	pro      *digest.ProService
}

func NewJobHandler(ingestor *ingestion.Ingestor, engine *extraction.Engine, indexer *indexing.Indexer, free *digest.FreeService, pro *digest.ProService) *JobHandler {
	return &JobHandler{
		ingestor: ingestor,
		engine:   engine,
		indexer:  indexer,
		free:     free,
		pro:      pro,
	}
}

// RunIngest pulls a date or date range from the publication source.
func (h *JobHandler) RunIngest(c *fiber.Ctx) error {
	var req struct {
		Date      string `json:"date"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	start, end := req.StartDate, req.EndDate
	if req.Date != "" {
		start, end = req.Date, req.Date
	}
	if start == "" {
		start = yesterday()
		end = start
	}
	if !validDate(start) || !validDate(end) {
		return badRequest(c, "Dates must be YYYY-MM-DD")
	}

	report, err := h.ingestor.IngestRange(c.Context(), start, end)
	if err != nil {
		if errors.Is(err, ingestion.ErrSourceUnavailable) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Publication source unavailable",
			})
		}
		logger.Error("Ingest job failed", zap.Error(err))
		return internalError(c, "Ingest failed")
	}
	return c.JSON(report)
}

// RunExtract derives signals for documents without an extraction.
func (h *JobHandler) RunExtract(c *fiber.Ctx) error {
	var req struct {
		Date  string `json:"date"`
		Limit int    `json:"limit"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if req.Date == "" {
		req.Date = yesterday()
	}
	if !validDate(req.Date) {
		return badRequest(c, "Date must be YYYY-MM-DD")
	}
	if req.Limit <= 0 {
		req.Limit = defaultJobLimit
	}

	report, err := h.engine.ExtractPending(c.Context(), req.Date, req.Limit)
	if err != nil {
		logger.Error("Extract job failed", zap.Error(err))
		return internalError(c, "Extraction failed")
	}
	return c.JSON(report)
}

// RunReindex backfills embeddings for extractions missing one.
func (h *JobHandler) RunReindex(c *fiber.Ctx) error {
	var req struct {
		Limit int `json:"limit"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultJobLimit
	}

	report, err := h.indexer.ReindexPending(c.Context(), req.Limit)
	if err != nil {
		logger.Error("Reindex job failed", zap.Error(err))
		return internalError(c, "Reindex failed")
	}
	return c.JSON(report)
}

// RunDigest sends the free daily digest and any due pro digests.
func (h *JobHandler) RunDigest(c *fiber.Ctx) error {
	var req struct {
		Date string `json:"date"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if req.Date == "" {
		req.Date = yesterday()
	}
	if !validDate(req.Date) {
		return badRequest(c, "Date must be YYYY-MM-DD")
	}

	freeStats, err := h.free.SendDailyDigests(c.Context(), req.Date)
	if err != nil {
		logger.Error("Free digest job failed", zap.Error(err))
		return internalError(c, "Digest failed")
	}

	proStats, err := h.pro.RunDue(c.Context(), time.Now())
	if err != nil {
		logger.Error("Pro digest job failed", zap.Error(err))
		return internalError(c, "Digest failed")
	}

	return c.JSON(fiber.Map{
		"free": freeStats,
		"pro":  proStats,
	})
}

func yesterday() string {
	return time.Now().AddDate(0, 0, -1).Format("2006-01-02")
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func internalError(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
}
