package job

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"maintscraper/internal/core/record"
	"maintscraper/internal/core/run"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type createResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

type statusResponse struct {
	Success bool `json:"success"`
	*Run
}

// CreateRequest is the body of POST /v1/runs. Workers and Headless fall
// back to the server defaults when omitted.
type CreateRequest struct {
	Kind     string `json:"kind"`
	Start    int    `json:"start"`
	Stop     int    `json:"stop"`
	Workers  *int   `json:"workers,omitempty"`
	Headless *bool  `json:"headless,omitempty"`
}

// Queue is what the handler needs from the service.
type Queue interface {
	Enqueue(ctx context.Context, j run.Job) (string, error)
	Get(ctx context.Context, id string) (*Run, error)
}

type Handler struct {
	jobs     Queue
	workers  int
	headless bool
}

func NewHandler(jobs Queue, defaultWorkers int, defaultHeadless bool) *Handler {
	return &Handler{jobs: jobs, workers: defaultWorkers, headless: defaultHeadless}
}

func (h *Handler) HandleCreateRun(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid body"})
	}
	j := run.Job{Kind: record.Kind(req.Kind), Start: req.Start, Stop: req.Stop, Workers: h.workers, Headless: h.headless}
	if req.Workers != nil {
		j.Workers = *req.Workers
	}
	if req.Headless != nil {
		j.Headless = *req.Headless
	}

	id, err := h.jobs.Enqueue(c.Context(), j)
	if errors.Is(err, ErrInvalidJob) {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(createResponse{Success: true, JobID: id})
}

func (h *Handler) HandleGetRun(c *fiber.Ctx) error {
	r, err := h.jobs.Get(c.Context(), c.Params("jobId"))
	if errors.Is(err, ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not_found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
	return c.JSON(statusResponse{Success: true, Run: r})
}
