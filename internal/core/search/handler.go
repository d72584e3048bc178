package search

import (
	"errors"

	"pricecompare/internal/core/grouping"
	"pricecompare/internal/core/job"
	"pricecompare/internal/core/listing"
	"pricecompare/internal/logger"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	service *Service
	group   func([]listing.Record) []grouping.OfferGroup
	log     *logger.Logger
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, group: grouping.Group, log: logger.New("SearchAPI")}
}

func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid body"})
	}
	query := req.Query
	if query == "" {
		query = req.ProductName
	}

	j, err := h.service.Start(c.UserContext(), query)
	if errors.Is(err, ErrInvalidInput) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query is required"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(CreateResponse{Success: true, JobID: j.ID})
}

func (h *Handler) HandlePoll(c *fiber.Ctx) error {
	id := c.Params("jobId")
	j, err := h.service.Get(c.UserContext(), id)
	switch {
	case errors.Is(err, ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "job id is required"})
	case errors.Is(err, job.ErrNotFound):
		h.log.LogDebugf("job not found: %s", id)
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "job " + id + " not found",
			Message: "The search results may have expired or been cleaned up. Please start a new search.",
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(h.view(j))
}

func (h *Handler) view(j *job.Job) PollResponse {
	resp := PollResponse{
		Success:       true,
		JobID:         j.ID,
		Status:        j.Status,
		OfferGroups:   []grouping.OfferGroup{},
		ScraperErrors: j.Errors,
		Query:         j.Query,
	}
	if j.Status == job.StatusPartialError {
		resp.Message = partialMessage
	}
	if j.Status == job.StatusPending || len(j.Records) == 0 {
		return resp
	}

	groups, err := grouping.TryGroup(j.Records, h.group)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", j.ID).Msg("grouping failed, returning ungrouped records")
		resp.RawResults = j.Records
		resp.Count = len(j.Records)
		return resp
	}
	h.log.LogDebugf("grouped %d products into %d groups for job %s", len(j.Records), len(groups), j.ID)
	resp.OfferGroups = groups
	resp.Count = len(groups)
	return resp
}
