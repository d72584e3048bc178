package search

import (
	"errors"

	"pricecompare/internal/core/grouping"
	"pricecompare/internal/core/job"
	"pricecompare/internal/core/listing"
)

// ErrInvalidInput marks a malformed API request.
var ErrInvalidInput = errors.New("invalid input")

// OrchestrationSource attributes errors raised by the fan-out itself rather
// than by one scraper.
const OrchestrationSource = "Orchestration"

const partialMessage = "One or more scrapers failed. Results may be incomplete."

// CreateRequest starts a search. ProductName is accepted as an alias for
// Query.
type CreateRequest struct {
	Query       string `json:"query"`
	ProductName string `json:"productName"`
}

type CreateResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// PollResponse is the grouped view of a job. RawResults is only set when
// grouping failed and the records are returned ungrouped.
type PollResponse struct {
	Success       bool                  `json:"success"`
	JobID         string                `json:"jobId"`
	Status        job.Status            `json:"status"`
	OfferGroups   []grouping.OfferGroup `json:"offerGroups"`
	RawResults    []listing.Record      `json:"rawResults,omitempty"`
	ScraperErrors []job.ScraperError    `json:"scraperErrors"`
	Query         string                `json:"query"`
	Count         int                   `json:"count"`
	Message       string                `json:"message,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RunTaskPayload is the queued form of a dispatched search.
type RunTaskPayload struct {
	JobID string `json:"job_id"`
	Query string `json:"query"`
}
